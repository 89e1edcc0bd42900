package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slapulse/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TelegramNotifier delivers SLA events as Telegram messages to the
// recipient's chat id. Recipients without a chat id are skipped with a
// warn log rather than treated as delivery failures.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	logger *logrus.Logger
}

// NewTelegramNotifier connects the bot. The HTTP client is traced so
// channel latency shows up next to the scan spans.
func NewTelegramNotifier(token string, logger *logrus.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Infof("Telegram notifier connected as @%s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, logger: logger}, nil
}

// SendSLAEvent sends one formatted message to one recipient.
func (n *TelegramNotifier) SendSLAEvent(_ context.Context, recipient models.User, summary TicketSummary, threshold SLAThreshold, severity SLASeverity) error {
	if recipient.TelegramChatID == 0 {
		n.logger.Warnf("User %d has no telegram chat id, skipping SLA %s %s for ticket %d",
			recipient.ID, threshold, severity, summary.TicketID)
		return nil
	}

	msg := tgbotapi.NewMessage(recipient.TelegramChatID, formatSLAMessage(summary, threshold, severity))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message to chat %d: %w", recipient.TelegramChatID, err)
	}
	return nil
}

func formatSLAMessage(summary TicketSummary, threshold SLAThreshold, severity SLASeverity) string {
	icon := "⚠️"
	if severity == SLASeverityBreach {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s SLA %s %s\n", icon, threshold, severity)
	fmt.Fprintf(&b, "Ticket #%d: %s\n", summary.TicketID, summary.Title)
	fmt.Fprintf(&b, "Priority: %s | Status: %s\n", summary.Priority, summary.Status)
	fmt.Fprintf(&b, "Due: %s (%s)", summary.DueAt.Format("2006-01-02 15:04"), summary.Remaining)
	return b.String()
}
