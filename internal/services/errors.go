package services

import (
	"errors"
	"fmt"
)

// InvalidTransitionError is returned when a status change is outside
// the lifecycle table. Nothing is mutated when it is returned.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ticket transition: %s -> %s", e.From, e.To)
}

// ErrSLARecalculationRejected is returned when a priority change is
// attempted on a resolved or closed ticket. The update is rejected as a
// whole; no partial write happens.
var ErrSLARecalculationRejected = errors.New("sla recalculation rejected: ticket is resolved or closed")

// ErrTicketNotFound is returned for lookups of unknown ticket ids.
var ErrTicketNotFound = errors.New("ticket not found")
