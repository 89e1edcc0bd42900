package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slapulse/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditSink records engine actions for later inspection. The monitor
// calls it once per escalation batch with aggregate counts, not once
// per recipient.
type AuditSink interface {
	RecordEvent(ctx context.Context, action string, orgID, ticketID uint, metadata map[string]interface{}) error
}

// AuditService persists audit events as rows.
type AuditService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewAuditService creates the sink.
func NewAuditService(db *gorm.DB, logger *logrus.Logger) *AuditService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuditService{db: db, logger: logger}
}

// RecordEvent writes one audit row with JSON metadata.
func (s *AuditService) RecordEvent(ctx context.Context, action string, orgID, ticketID uint, metadata map[string]interface{}) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	event := &models.AuditLog{
		EventID:   uuid.NewString(),
		Action:    action,
		OrgID:     orgID,
		TicketID:  ticketID,
		Metadata:  string(payload),
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	s.logger.Debugf("Audit %s: org=%d ticket=%d %s", action, orgID, ticketID, event.Metadata)
	return nil
}
