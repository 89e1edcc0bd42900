package metrics

import "sync/atomic"

// scanStats holds cumulative counters for SLA scan outcomes. Kept
// simple/thread-safe for use from the monitor goroutine and the ops
// endpoint.
type scanStats struct {
	scans    uint64
	warnings uint64
	breaches uint64
	errors   uint64
}

var scan scanStats

// RecordScan adds one completed scan's outcome to the counters.
func RecordScan(warnings, breaches, errors int) {
	atomic.AddUint64(&scan.scans, 1)
	atomic.AddUint64(&scan.warnings, uint64(warnings))
	atomic.AddUint64(&scan.breaches, uint64(breaches))
	atomic.AddUint64(&scan.errors, uint64(errors))
}

// ScanSnapshot returns a copy of the current counters.
func ScanSnapshot() (scans, warnings, breaches, errors uint64) {
	return atomic.LoadUint64(&scan.scans),
		atomic.LoadUint64(&scan.warnings),
		atomic.LoadUint64(&scan.breaches),
		atomic.LoadUint64(&scan.errors)
}
