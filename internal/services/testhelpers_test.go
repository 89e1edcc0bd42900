package services

import (
	"testing"
	"time"

	"slapulse/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Ticket{},
		&models.TicketStatusChange{},
		&models.AuditLog{},
		&models.NotificationDelivery{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("failed to insert %T: %v", value, err)
	}
}

// seedTicket inserts a ticket with due dates computed from the default
// policy and the given creation time.
func seedTicket(t *testing.T, db *gorm.DB, ticket *models.Ticket, createdAt time.Time) *models.Ticket {
	t.Helper()
	policy := DefaultSLAPolicy()
	if ticket.Priority == "" {
		ticket.Priority = models.TicketPriorityMedium
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusOpen
	}
	ticket.CreatedAt = createdAt
	ticket.SLAResponseDueAt = policy.ResponseDueAt(ticket.Priority, createdAt)
	ticket.SLAResolutionDueAt = policy.ResolutionDueAt(ticket.Priority, createdAt)
	mustCreate(t, db, ticket)
	return ticket
}
