package services

import (
	"fmt"
	"time"

	"slapulse/internal/models"
)

// SLAState classifies a ticket against one SLA deadline.
type SLAState string

const (
	SLAStateOK            SLAState = "ok"
	SLAStateWarning       SLAState = "warning"
	SLAStateBreached      SLAState = "breached"
	SLAStateNotApplicable SLAState = "not_applicable"
)

// warningThreshold is the elapsed fraction of the SLA window at which a
// ticket enters the warning zone.
const warningThreshold = 0.75

// EvaluateSLA classifies (createdAt, dueAt, now) into ok/warning/breached.
// A nil dueAt means no SLA applies. A window where dueAt <= createdAt is
// treated as ok until the deadline has actually passed.
func EvaluateSLA(createdAt time.Time, dueAt *time.Time, now time.Time) SLAState {
	if dueAt == nil {
		return SLAStateNotApplicable
	}
	if !now.Before(*dueAt) {
		return SLAStateBreached
	}
	window := dueAt.Sub(createdAt)
	if window <= 0 {
		return SLAStateOK
	}
	elapsed := now.Sub(createdAt)
	if float64(elapsed)/float64(window) >= warningThreshold {
		return SLAStateWarning
	}
	return SLAStateOK
}

// FormatRemaining renders the time left until (or elapsed since) the
// deadline as a short human-readable string, e.g. "3h20m remaining" or
// "overdue by 1h05m".
func FormatRemaining(dueAt time.Time, now time.Time) string {
	remaining := dueAt.Sub(now)
	if remaining < 0 {
		return fmt.Sprintf("overdue by %s", formatDuration(-remaining))
	}
	return fmt.Sprintf("%s remaining", formatDuration(remaining))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// TicketSLAView is an immutable per-scan snapshot of everything the
// evaluator needs about one ticket. It is computed once per ticket per
// pass so the responded/finished branching cannot be re-derived
// inconsistently further down.
type TicketSLAView struct {
	TicketID  uint      `json:"ticket_id"`
	OrgID     uint      `json:"org_id"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	// Responded means first response already happened; response-SLA
	// evaluation is skipped for good.
	Responded bool `json:"responded"`
	// Finished means resolved_at is set or the ticket is in a terminal
	// status; resolution-SLA evaluation is skipped for good.
	Finished bool `json:"finished"`

	ResponseDueAt   time.Time `json:"response_due_at"`
	ResolutionDueAt time.Time `json:"resolution_due_at"`

	ResponseState   SLAState `json:"response_state"`
	ResolutionState SLAState `json:"resolution_state"`

	ResponseRemaining   string `json:"response_remaining,omitempty"`
	ResolutionRemaining string `json:"resolution_remaining,omitempty"`
}

// NewTicketSLAView evaluates both SLA clocks for a ticket at the given
// instant.
func NewTicketSLAView(ticket *models.Ticket, now time.Time) TicketSLAView {
	view := TicketSLAView{
		TicketID:        ticket.ID,
		OrgID:           ticket.OrgID,
		Priority:        ticket.Priority,
		CreatedAt:       ticket.CreatedAt,
		Responded:       ticket.FirstResponseAt != nil,
		Finished:        ticket.ResolvedAt != nil || !ticket.Active(),
		ResponseDueAt:   ticket.SLAResponseDueAt,
		ResolutionDueAt: ticket.SLAResolutionDueAt,
	}

	view.ResponseState = SLAStateNotApplicable
	if !view.Responded {
		view.ResponseState = EvaluateSLA(ticket.CreatedAt, &ticket.SLAResponseDueAt, now)
		view.ResponseRemaining = FormatRemaining(ticket.SLAResponseDueAt, now)
	}

	view.ResolutionState = SLAStateNotApplicable
	if !view.Finished {
		view.ResolutionState = EvaluateSLA(ticket.CreatedAt, &ticket.SLAResolutionDueAt, now)
		view.ResolutionRemaining = FormatRemaining(ticket.SLAResolutionDueAt, now)
	}

	return view
}
