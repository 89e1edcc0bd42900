package services

import (
	"time"

	"slapulse/internal/models"
)

// SLATarget holds the response/resolution windows for one priority.
type SLATarget struct {
	Response   time.Duration
	Resolution time.Duration
}

// SLAPolicy is an immutable priority→target mapping. It is built once
// at startup and injected into the services that need it; nothing
// mutates it afterwards, so it is safe to share across goroutines.
type SLAPolicy struct {
	targets map[string]SLATarget
}

// NewSLAPolicy copies the given table into an immutable policy.
// Priorities missing from the table resolve to the medium target.
func NewSLAPolicy(targets map[string]SLATarget) *SLAPolicy {
	copied := make(map[string]SLATarget, len(targets))
	for priority, target := range targets {
		copied[priority] = target
	}
	return &SLAPolicy{targets: copied}
}

// DefaultSLAPolicy returns the stock table: low 24h/72h, medium 8h/48h,
// high 4h/24h, urgent 1h/8h.
func DefaultSLAPolicy() *SLAPolicy {
	return NewSLAPolicy(map[string]SLATarget{
		models.TicketPriorityLow:    {Response: 24 * time.Hour, Resolution: 72 * time.Hour},
		models.TicketPriorityMedium: {Response: 8 * time.Hour, Resolution: 48 * time.Hour},
		models.TicketPriorityHigh:   {Response: 4 * time.Hour, Resolution: 24 * time.Hour},
		models.TicketPriorityUrgent: {Response: 1 * time.Hour, Resolution: 8 * time.Hour},
	})
}

// Target resolves the SLA windows for a priority, falling back to
// medium for unknown values.
func (p *SLAPolicy) Target(priority string) SLATarget {
	if target, ok := p.targets[priority]; ok {
		return target
	}
	return p.targets[models.TicketPriorityMedium]
}

// ResponseDueAt computes the first-response deadline for a ticket
// created at the given time.
func (p *SLAPolicy) ResponseDueAt(priority string, createdAt time.Time) time.Time {
	return createdAt.Add(p.Target(priority).Response)
}

// ResolutionDueAt computes the resolution deadline for a ticket created
// at the given time.
func (p *SLAPolicy) ResolutionDueAt(priority string, createdAt time.Time) time.Time {
	return createdAt.Add(p.Target(priority).Resolution)
}
