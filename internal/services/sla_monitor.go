package services

import (
	"context"
	"fmt"
	"time"

	"slapulse/internal/metrics"
	"slapulse/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// DefaultScanInterval is how often the monitor sweeps active tickets.
const DefaultScanInterval = 300 * time.Second

// defaultNotifyTimeout bounds the notification fan-out for one ticket
// so a hung channel cannot stall the whole scan.
const defaultNotifyTimeout = 10 * time.Second

// ScanStats aggregates the outcome of one scan run.
type ScanStats struct {
	TicketsScanned int `json:"tickets_scanned"`
	WarningsSent   int `json:"warnings_sent"`
	BreachesSent   int `json:"breaches_sent"`
	Errors         int `json:"errors"`
}

// ScanLocker serializes scans across replicas. TryAcquire returns false
// when another instance holds the lease; losing is not an error.
type ScanLocker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// RedisScanLocker implements ScanLocker with a SETNX lease.
type RedisScanLocker struct {
	client *redis.Client
	key    string
	owner  string
}

// NewRedisScanLocker creates the lease. Owner should be unique per
// process (host+pid or a uuid).
func NewRedisScanLocker(client *redis.Client, key, owner string) *RedisScanLocker {
	if key == "" {
		key = "slapulse:scan:lock"
	}
	return &RedisScanLocker{client: client, key: key, owner: owner}
}

// TryAcquire takes the lease if free.
func (l *RedisScanLocker) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire scan lock: %w", err)
	}
	return ok, nil
}

// Release drops the lease only if this instance still owns it.
func (l *RedisScanLocker) Release(ctx context.Context) error {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	if err := l.client.Eval(ctx, script, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release scan lock: %w", err)
	}
	return nil
}

// SLAMonitor is the periodic escalation engine. Each run scans active
// tickets, evaluates both SLA clocks, and escalates each threshold at
// most once: the nullable sent-at marker on the ticket row is the only
// concurrency-control primitive, claimed with a conditional update so a
// concurrent duplicate scan loses the race harmlessly.
type SLAMonitor struct {
	db            *gorm.DB
	logger        *logrus.Logger
	policy        *SLAPolicy
	recipients    RecipientResolver
	notifier      Notifier
	audit         AuditSink
	locker        ScanLocker
	tracer        trace.Tracer
	interval      time.Duration
	notifyTimeout time.Duration
	orgFilter     *uint
}

// NewSLAMonitor wires the engine. locker may be nil for
// single-instance deployments.
func NewSLAMonitor(db *gorm.DB, logger *logrus.Logger, policy *SLAPolicy, recipients RecipientResolver, notifier Notifier, audit AuditSink, locker ScanLocker) *SLAMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	if policy == nil {
		policy = DefaultSLAPolicy()
	}
	return &SLAMonitor{
		db:            db,
		logger:        logger,
		policy:        policy,
		recipients:    recipients,
		notifier:      notifier,
		audit:         audit,
		locker:        locker,
		tracer:        otel.Tracer("slapulse.monitor"),
		interval:      DefaultScanInterval,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// SetInterval overrides the scan interval (used from config).
func (m *SLAMonitor) SetInterval(interval time.Duration) {
	if interval > 0 {
		m.interval = interval
	}
}

// SetNotifyTimeout overrides the per-ticket notification timeout.
func (m *SLAMonitor) SetNotifyTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.notifyTimeout = timeout
	}
}

// SetOrgFilter restricts scans to one organization (nil scans all).
func (m *SLAMonitor) SetOrgFilter(orgID *uint) {
	m.orgFilter = orgID
}

// Start runs scans on a ticker until the context is cancelled.
func (m *SLAMonitor) Start(ctx context.Context) {
	m.logger.Infof("Starting SLA monitor (interval %s)", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("SLA monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.RunScan(ctx); err != nil {
				m.logger.Errorf("SLA scan failed: %v", err)
			}
		}
	}
}

// RunScan performs one sweep over all active tickets. A per-ticket
// failure is counted and logged but never aborts the run; cancellation
// is honored between tickets, which is safe because persistence is
// per-ticket or smaller.
func (m *SLAMonitor) RunScan(ctx context.Context) (ScanStats, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.scan")
	defer span.End()

	var stats ScanStats

	if m.locker != nil {
		acquired, err := m.locker.TryAcquire(ctx, m.interval)
		if err != nil {
			span.RecordError(err)
			return stats, err
		}
		if !acquired {
			m.logger.Debug("SLA scan skipped: another instance holds the lease")
			return stats, nil
		}
		defer func() {
			if err := m.locker.Release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warnf("Failed to release scan lock: %v", err)
			}
		}()
	}

	query := m.db.WithContext(ctx).
		Where("status NOT IN ?", []string{models.TicketStatusResolved, models.TicketStatusClosed})
	if m.orgFilter != nil {
		query = query.Where("org_id = ?", *m.orgFilter)
	}

	var tickets []models.Ticket
	if err := query.Find(&tickets).Error; err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("failed to fetch active tickets: %w", err)
	}

	now := time.Now()
	for i := range tickets {
		if ctx.Err() != nil {
			m.logger.Warnf("SLA scan interrupted after %d/%d tickets: %v", i, len(tickets), ctx.Err())
			break
		}
		stats.TicketsScanned++
		if err := m.processTicket(ctx, &tickets[i], now, &stats); err != nil {
			stats.Errors++
			m.logger.Errorf("SLA scan: ticket %d failed: %v", tickets[i].ID, err)
		}
	}

	metrics.RecordScan(stats.WarningsSent, stats.BreachesSent, stats.Errors)
	span.SetAttributes(
		attribute.Int("scan.tickets", stats.TicketsScanned),
		attribute.Int("scan.warnings", stats.WarningsSent),
		attribute.Int("scan.breaches", stats.BreachesSent),
		attribute.Int("scan.errors", stats.Errors),
	)
	m.logger.Infof("SLA scan completed: %d tickets, %d warnings, %d breaches, %d errors",
		stats.TicketsScanned, stats.WarningsSent, stats.BreachesSent, stats.Errors)
	return stats, nil
}

// markerColumn maps a threshold/severity pair to its ticket column.
func markerColumn(threshold SLAThreshold, severity SLASeverity) string {
	switch {
	case threshold == SLAThresholdResponse && severity == SLASeverityWarning:
		return "sla_response_warning_sent_at"
	case threshold == SLAThresholdResponse && severity == SLASeverityBreach:
		return "sla_response_breach_sent_at"
	case threshold == SLAThresholdResolution && severity == SLASeverityWarning:
		return "sla_resolution_warning_sent_at"
	default:
		return "sla_resolution_breach_sent_at"
	}
}

// processTicket evaluates both SLA clocks for one ticket and escalates
// whatever is due and unclaimed. Breach escalation does not depend on
// the warning marker: a missed warning window never blocks the breach.
func (m *SLAMonitor) processTicket(ctx context.Context, ticket *models.Ticket, now time.Time, stats *ScanStats) error {
	view := NewTicketSLAView(ticket, now)

	if !view.Responded {
		switch view.ResponseState {
		case SLAStateWarning:
			if ticket.SLAResponseWarningSentAt == nil {
				if err := m.escalate(ctx, ticket, view, SLAThresholdResponse, SLASeverityWarning, now, stats); err != nil {
					return err
				}
			}
		case SLAStateBreached:
			if ticket.SLAResponseBreachSentAt == nil {
				if err := m.escalate(ctx, ticket, view, SLAThresholdResponse, SLASeverityBreach, now, stats); err != nil {
					return err
				}
			}
		}
	}

	if !view.Finished {
		switch view.ResolutionState {
		case SLAStateWarning:
			if ticket.SLAResolutionWarningSentAt == nil {
				if err := m.escalate(ctx, ticket, view, SLAThresholdResolution, SLASeverityWarning, now, stats); err != nil {
					return err
				}
			}
		case SLAStateBreached:
			if ticket.SLAResolutionBreachSentAt == nil {
				if err := m.escalate(ctx, ticket, view, SLAThresholdResolution, SLASeverityBreach, now, stats); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// escalate claims the idempotency marker and, on winning the claim,
// notifies every recipient sequentially. Channel failures are logged
// and recorded per recipient; they never unwind the marker and are not
// retried. One audit event is recorded per batch with aggregate counts.
func (m *SLAMonitor) escalate(ctx context.Context, ticket *models.Ticket, view TicketSLAView, threshold SLAThreshold, severity SLASeverity, now time.Time, stats *ScanStats) error {
	column := markerColumn(threshold, severity)

	// Atomic conditional claim: a concurrent scan that already set the
	// marker makes this a no-op and we walk away.
	result := m.db.WithContext(ctx).Model(&models.Ticket{}).
		Where(fmt.Sprintf("id = ? AND %s IS NULL", column), ticket.ID).
		Update(column, now)
	if result.Error != nil {
		return fmt.Errorf("failed to claim %s marker: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}

	recipients, err := m.recipients.ResolveEscalationRecipients(ctx, ticket)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}

	dueAt := view.ResponseDueAt
	remaining := view.ResponseRemaining
	if threshold == SLAThresholdResolution {
		dueAt = view.ResolutionDueAt
		remaining = view.ResolutionRemaining
	}
	summary := TicketSummary{
		TicketID:  ticket.ID,
		OrgID:     ticket.OrgID,
		Title:     ticket.Title,
		Priority:  ticket.Priority,
		Status:    ticket.Status,
		DueAt:     dueAt,
		Remaining: remaining,
	}

	notifyCtx, cancel := context.WithTimeout(ctx, m.notifyTimeout)
	defer cancel()

	delivered := 0
	failed := 0
	for _, recipient := range recipients {
		deliveryErr := m.notifier.SendSLAEvent(notifyCtx, recipient, summary, threshold, severity)
		if deliveryErr != nil {
			failed++
			m.logger.Errorf("SLA %s %s for ticket %d: delivery to user %d failed: %v",
				threshold, severity, ticket.ID, recipient.ID, deliveryErr)
		} else {
			delivered++
		}
		m.recordDelivery(ctx, ticket.ID, recipient.ID, threshold, severity, deliveryErr)
	}

	if severity == SLASeverityBreach {
		stats.BreachesSent++
	} else {
		stats.WarningsSent++
	}

	if m.audit != nil {
		err := m.audit.RecordEvent(ctx, fmt.Sprintf("sla.%s.%s", threshold, severity), ticket.OrgID, ticket.ID, map[string]interface{}{
			"priority":   ticket.Priority,
			"due_at":     dueAt.Format(time.RFC3339),
			"recipients": len(recipients),
			"delivered":  delivered,
			"failed":     failed,
		})
		if err != nil {
			m.logger.Errorf("Failed to audit SLA %s %s for ticket %d: %v", threshold, severity, ticket.ID, err)
		}
	}

	m.logger.Warnf("SLA %s %s escalated for ticket %d: %d/%d recipients notified",
		threshold, severity, ticket.ID, delivered, len(recipients))
	return nil
}

// recordDelivery persists one per-recipient attempt row. Best effort.
func (m *SLAMonitor) recordDelivery(ctx context.Context, ticketID, recipientID uint, threshold SLAThreshold, severity SLASeverity, deliveryErr error) {
	row := &models.NotificationDelivery{
		TicketID:    ticketID,
		RecipientID: recipientID,
		Threshold:   string(threshold),
		Severity:    string(severity),
		Delivered:   deliveryErr == nil,
		CreatedAt:   time.Now(),
	}
	if deliveryErr != nil {
		row.Error = deliveryErr.Error()
	}
	if err := m.db.WithContext(ctx).Create(row).Error; err != nil {
		m.logger.Errorf("Failed to record delivery for ticket %d user %d: %v", ticketID, recipientID, err)
	}
}
