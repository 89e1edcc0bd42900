package services

import (
	"context"
	"time"

	"slapulse/internal/models"

	"github.com/sirupsen/logrus"
)

// SLAThreshold names which clock an escalation is about.
type SLAThreshold string

const (
	SLAThresholdResponse   SLAThreshold = "response"
	SLAThresholdResolution SLAThreshold = "resolution"
)

// SLASeverity names how far along the clock is.
type SLASeverity string

const (
	SLASeverityWarning SLASeverity = "warning"
	SLASeverityBreach  SLASeverity = "breach"
)

// TicketSummary is the slice of ticket state a notification channel
// needs; channels never see the full row.
type TicketSummary struct {
	TicketID  uint
	OrgID     uint
	Title     string
	Priority  string
	Status    string
	DueAt     time.Time
	Remaining string
}

// Notifier delivers one SLA event to one recipient. Failures are the
// caller's to log; channels do not retry internally.
type Notifier interface {
	SendSLAEvent(ctx context.Context, recipient models.User, summary TicketSummary, threshold SLAThreshold, severity SLASeverity) error
}

// LogNotifier writes escalations to the process log. It is the default
// channel and the fallback when no external channel is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates the channel.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotifier{logger: logger}
}

// SendSLAEvent logs the event. Never fails.
func (n *LogNotifier) SendSLAEvent(_ context.Context, recipient models.User, summary TicketSummary, threshold SLAThreshold, severity SLASeverity) error {
	n.logger.Warnf("SLA %s %s: ticket %d %q (priority %s, %s) -> %s <%s>",
		threshold, severity, summary.TicketID, summary.Title, summary.Priority,
		summary.Remaining, recipient.Username, recipient.Email)
	return nil
}
