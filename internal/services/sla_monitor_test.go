package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"slapulse/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type notifyCall struct {
	TicketID    uint
	RecipientID uint
	Threshold   SLAThreshold
	Severity    SLASeverity
}

// fakeNotifier records calls and can fail for chosen recipients.
type fakeNotifier struct {
	mu      sync.Mutex
	calls   []notifyCall
	failFor map[uint]bool
}

func (n *fakeNotifier) SendSLAEvent(_ context.Context, recipient models.User, summary TicketSummary, threshold SLAThreshold, severity SLASeverity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{
		TicketID:    summary.TicketID,
		RecipientID: recipient.ID,
		Threshold:   threshold,
		Severity:    severity,
	})
	if n.failFor[recipient.ID] {
		return fmt.Errorf("channel down for user %d", recipient.ID)
	}
	return nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// failingResolver errors for one ticket id and delegates otherwise.
type failingResolver struct {
	inner      RecipientResolver
	failTicket uint
}

func (r *failingResolver) ResolveEscalationRecipients(ctx context.Context, ticket *models.Ticket) ([]models.User, error) {
	if ticket.ID == r.failTicket {
		return nil, fmt.Errorf("directory unavailable")
	}
	return r.inner.ResolveEscalationRecipients(ctx, ticket)
}

// deniedLocker simulates another instance holding the scan lease.
type deniedLocker struct{}

func (deniedLocker) TryAcquire(context.Context, time.Duration) (bool, error) { return false, nil }
func (deniedLocker) Release(context.Context) error                          { return nil }

func newMonitorFixture(t *testing.T) (*gorm.DB, *SLAMonitor, *fakeNotifier) {
	t.Helper()
	db := newTestDB(t)
	log := logrus.New()
	notifier := &fakeNotifier{failFor: map[uint]bool{}}
	monitor := NewSLAMonitor(db, log, DefaultSLAPolicy(),
		NewRecipientService(db, log), notifier, NewAuditService(db, log), nil)
	// one active admin in org 1 so escalations always have an audience
	mustCreate(t, db, &models.User{ID: 100, OrgID: 1, Username: "admin", Email: "admin@x.test", Role: models.UserRoleAdmin, Status: models.UserStatusActive})
	return db, monitor, notifier
}

func TestSLAMonitor_WarningSentOnceAndIdempotent(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)
	ctx := context.Background()

	// high priority at 75% of the 4h response window
	ticket := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "slow", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-(3*time.Hour + time.Minute)))

	stats, err := monitor.RunScan(ctx)
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.WarningsSent != 1 || stats.BreachesSent != 0 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if notifier.callCount() != 1 {
		t.Fatalf("notifier called %d times, want 1", notifier.callCount())
	}

	var reloaded models.Ticket
	if err := db.First(&reloaded, ticket.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SLAResponseWarningSentAt == nil {
		t.Fatal("warning marker not persisted")
	}

	// a second scan with no intervening mutation sends nothing
	stats, err = monitor.RunScan(ctx)
	if err != nil {
		t.Fatalf("second RunScan failed: %v", err)
	}
	if stats.WarningsSent != 0 || stats.BreachesSent != 0 {
		t.Fatalf("second scan escalated again: %+v", stats)
	}
	if notifier.callCount() != 1 {
		t.Fatalf("notifier called %d times after second scan, want still 1", notifier.callCount())
	}
}

func TestSLAMonitor_BreachIndependentOfMissedWarning(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)

	// response deadline long past and no warning was ever sent
	ticket := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "ignored", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.BreachesSent != 1 {
		t.Fatalf("breaches sent = %d, want 1", stats.BreachesSent)
	}

	var reloaded models.Ticket
	if err := db.First(&reloaded, ticket.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SLAResponseBreachSentAt == nil {
		t.Fatal("breach marker not persisted")
	}
	if reloaded.SLAResponseWarningSentAt != nil {
		t.Fatal("warning marker set retroactively after deadline passed")
	}
	for _, call := range notifier.calls {
		if call.Severity != SLASeverityBreach {
			t.Fatalf("unexpected %s notification after the deadline", call.Severity)
		}
	}
}

func TestSLAMonitor_RespondedTicketSkipsResponseSLA(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)

	responded := time.Now().Add(-4 * time.Hour)
	ticket := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "answered", RequesterID: 1,
		Status: models.TicketStatusInProgress, Priority: models.TicketPriorityHigh,
		FirstResponseAt: &responded,
	}, time.Now().Add(-6*time.Hour))

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.WarningsSent != 0 || stats.BreachesSent != 0 {
		t.Fatalf("responded ticket escalated: %+v", stats)
	}
	if notifier.callCount() != 0 {
		t.Fatalf("notifier called for responded ticket")
	}

	var reloaded models.Ticket
	if err := db.First(&reloaded, ticket.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SLAResponseBreachSentAt != nil {
		t.Fatal("response breach marker set despite first response")
	}
}

func TestSLAMonitor_BothThresholdsEscalateIndependently(t *testing.T) {
	db, monitor, _ := newMonitorFixture(t)

	// 25h old high ticket: response and resolution both breached
	seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "stale", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-25*time.Hour))

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.BreachesSent != 2 {
		t.Fatalf("breaches sent = %d, want 2 (response + resolution)", stats.BreachesSent)
	}
}

func TestSLAMonitor_PartialFailureIsolation(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)
	log := logrus.New()

	bad := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "bad", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))
	good := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "good", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))

	monitor.recipients = &failingResolver{
		inner:      NewRecipientService(db, log),
		failTicket: bad.ID,
	}

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.Errors != 1 {
		t.Fatalf("errors = %d, want exactly 1", stats.Errors)
	}
	if stats.BreachesSent != 1 {
		t.Fatalf("healthy ticket not escalated: %+v", stats)
	}
	if notifier.callCount() != 1 || notifier.calls[0].TicketID != good.ID {
		t.Fatalf("expected one notification for ticket %d, got %+v", good.ID, notifier.calls)
	}
}

func TestSLAMonitor_DeliveryFailureStillClaimsMarker(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)
	notifier.failFor[100] = true

	ticket := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "unreachable", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.Errors != 0 {
		t.Fatalf("delivery failure counted as scan error: %+v", stats)
	}
	if stats.BreachesSent != 1 {
		t.Fatalf("breach not counted: %+v", stats)
	}

	var reloaded models.Ticket
	if err := db.First(&reloaded, ticket.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SLAResponseBreachSentAt == nil {
		t.Fatal("marker unwound by delivery failure")
	}

	var delivery models.NotificationDelivery
	if err := db.Where("ticket_id = ? AND recipient_id = ?", ticket.ID, 100).First(&delivery).Error; err != nil {
		t.Fatalf("delivery row missing: %v", err)
	}
	if delivery.Delivered {
		t.Fatal("failed delivery recorded as delivered")
	}
	if delivery.Error == "" {
		t.Fatal("delivery error text missing")
	}
}

func TestSLAMonitor_AuditEventPerBatch(t *testing.T) {
	db, monitor, _ := newMonitorFixture(t)
	// second admin so the batch has two recipients but one audit row
	mustCreate(t, db, &models.User{ID: 101, OrgID: 1, Username: "admin2", Email: "admin2@x.test", Role: models.UserRoleAdmin, Status: models.UserStatusActive})

	ticket := seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "late", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))

	if _, err := monitor.RunScan(context.Background()); err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}

	var events []models.AuditLog
	if err := db.Where("ticket_id = ?", ticket.ID).Find(&events).Error; err != nil {
		t.Fatalf("failed to load audit events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1 per batch", len(events))
	}
	if events[0].Action != "sla.response.breach" {
		t.Fatalf("audit action = %s", events[0].Action)
	}
	if events[0].EventID == "" {
		t.Fatal("audit event id missing")
	}
}

func TestSLAMonitor_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)
	monitor.locker = deniedLocker{}

	seedTicket(t, db, &models.Ticket{
		OrgID: 1, Title: "late", RequesterID: 1,
		Status: models.TicketStatusOpen, Priority: models.TicketPriorityHigh,
	}, time.Now().Add(-5*time.Hour))

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.TicketsScanned != 0 || notifier.callCount() != 0 {
		t.Fatalf("scan ran despite lost lease: %+v", stats)
	}
}

func TestSLAMonitor_TerminalTicketsNotScanned(t *testing.T) {
	db, monitor, notifier := newMonitorFixture(t)

	for _, status := range []string{models.TicketStatusResolved, models.TicketStatusClosed} {
		seedTicket(t, db, &models.Ticket{
			OrgID: 1, Title: status, RequesterID: 1,
			Status: status, Priority: models.TicketPriorityHigh,
		}, time.Now().Add(-48*time.Hour))
	}

	stats, err := monitor.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if stats.TicketsScanned != 0 || notifier.callCount() != 0 {
		t.Fatalf("terminal tickets scanned: %+v", stats)
	}
}
