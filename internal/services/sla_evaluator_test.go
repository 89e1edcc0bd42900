package services

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"slapulse/internal/models"
)

func TestEvaluateSLA_Boundaries(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	dueAt := createdAt.Add(4 * time.Hour)

	tests := []struct {
		name string
		now  time.Time
		want SLAState
	}{
		{"fresh", createdAt.Add(time.Minute), SLAStateOK},
		{"just under warning", createdAt.Add(3*time.Hour - time.Second), SLAStateOK},
		{"exactly 75%", createdAt.Add(3 * time.Hour), SLAStateWarning},
		{"deep in warning zone", createdAt.Add(3*time.Hour + 59*time.Minute), SLAStateWarning},
		{"exactly at deadline", dueAt, SLAStateBreached},
		{"one second past", dueAt.Add(time.Second), SLAStateBreached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateSLA(createdAt, &dueAt, tt.now); got != tt.want {
				t.Fatalf("EvaluateSLA(now=%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestEvaluateSLA_NilDueDate(t *testing.T) {
	if got := EvaluateSLA(time.Now(), nil, time.Now()); got != SLAStateNotApplicable {
		t.Fatalf("nil due date = %s, want not_applicable", got)
	}
}

func TestEvaluateSLA_DegenerateWindow(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	// due before creation: ok while the deadline is in the future
	// relative to now... it cannot be, so only the breach branch applies.
	past := createdAt.Add(-time.Hour)
	if got := EvaluateSLA(createdAt, &past, createdAt); got != SLAStateBreached {
		t.Fatalf("past due date = %s, want breached", got)
	}

	// due == created with now before it: zero window must not divide
	future := createdAt
	if got := EvaluateSLA(createdAt, &future, createdAt.Add(-time.Minute)); got != SLAStateOK {
		t.Fatalf("zero window before deadline = %s, want ok", got)
	}
}

func TestEvaluateSLA_Randomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		createdAt := base.Add(time.Duration(rng.Intn(100000)) * time.Second)
		window := time.Duration(1+rng.Intn(100000)) * time.Second
		dueAt := createdAt.Add(window)
		now := createdAt.Add(time.Duration(rng.Intn(200000)-50000) * time.Second)

		got := EvaluateSLA(createdAt, &dueAt, now)

		switch {
		case !now.Before(dueAt):
			if got != SLAStateBreached {
				t.Fatalf("now=%s due=%s: got %s, want breached", now, dueAt, got)
			}
		case float64(now.Sub(createdAt))/float64(window) >= 0.75:
			if got != SLAStateWarning {
				t.Fatalf("now=%s due=%s: got %s, want warning", now, dueAt, got)
			}
		default:
			if got != SLAStateOK {
				t.Fatalf("now=%s due=%s: got %s, want ok", now, dueAt, got)
			}
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		dueAt time.Time
		want  string
	}{
		{now.Add(3*time.Hour + 20*time.Minute), "3h20m remaining"},
		{now.Add(45 * time.Minute), "45m remaining"},
		{now.Add(-(time.Hour + 5*time.Minute)), "overdue by 1h05m"},
		{now.Add(-30 * time.Minute), "overdue by 30m"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.dueAt, now); got != tt.want {
			t.Errorf("FormatRemaining(%s) = %q, want %q", tt.dueAt, got, tt.want)
		}
	}
}

func TestNewTicketSLAView_SkipFlags(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	createdAt := now.Add(-10 * time.Hour)
	responded := now.Add(-9 * time.Hour)

	ticket := &models.Ticket{
		ID:                 7,
		OrgID:              1,
		Priority:           models.TicketPriorityMedium,
		Status:             models.TicketStatusInProgress,
		CreatedAt:          createdAt,
		FirstResponseAt:    &responded,
		SLAResponseDueAt:   createdAt.Add(8 * time.Hour),
		SLAResolutionDueAt: createdAt.Add(48 * time.Hour),
	}

	view := NewTicketSLAView(ticket, now)
	if !view.Responded {
		t.Fatal("expected responded view")
	}
	if view.ResponseState != SLAStateNotApplicable {
		t.Fatalf("responded ticket response state = %s, want not_applicable", view.ResponseState)
	}
	if view.Finished {
		t.Fatal("in_progress ticket should not be finished")
	}
	if view.ResolutionState != SLAStateOK {
		t.Fatalf("resolution state = %s, want ok", view.ResolutionState)
	}
	if !strings.HasSuffix(view.ResolutionRemaining, "remaining") {
		t.Fatalf("unexpected remaining text %q", view.ResolutionRemaining)
	}

	resolvedAt := now.Add(-time.Hour)
	ticket.ResolvedAt = &resolvedAt
	view = NewTicketSLAView(ticket, now)
	if !view.Finished {
		t.Fatal("resolved_at set: expected finished view")
	}
	if view.ResolutionState != SLAStateNotApplicable {
		t.Fatalf("finished ticket resolution state = %s, want not_applicable", view.ResolutionState)
	}
}

func TestNewTicketSLAView_HighScenario(t *testing.T) {
	// high: warning at created+3h (75% of 4h), breach just past created+4h
	createdAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	ticket := &models.Ticket{
		ID:                 1,
		Priority:           models.TicketPriorityHigh,
		Status:             models.TicketStatusOpen,
		CreatedAt:          createdAt,
		SLAResponseDueAt:   createdAt.Add(4 * time.Hour),
		SLAResolutionDueAt: createdAt.Add(24 * time.Hour),
	}

	view := NewTicketSLAView(ticket, createdAt.Add(3*time.Hour))
	if view.ResponseState != SLAStateWarning {
		t.Fatalf("at +3h response state = %s, want warning", view.ResponseState)
	}

	view = NewTicketSLAView(ticket, createdAt.Add(4*time.Hour+time.Second))
	if view.ResponseState != SLAStateBreached {
		t.Fatalf("at +4h1s response state = %s, want breached", view.ResponseState)
	}
	if view.ResolutionState != SLAStateOK {
		t.Fatalf("at +4h1s resolution state = %s, want ok", view.ResolutionState)
	}
}
