package models

import (
	"time"

	"gorm.io/gorm"
)

// Ticket statuses. Transitions between them are enforced by
// services.TicketService, never written directly by handlers.
const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"
)

// Ticket priorities. Unknown values fall back to medium when SLA
// targets are resolved.
const (
	TicketPriorityLow    = "low"
	TicketPriorityMedium = "medium"
	TicketPriorityHigh   = "high"
	TicketPriorityUrgent = "urgent"
)

// User roles and statuses.
const (
	UserRoleCustomer = "customer"
	UserRoleAgent    = "agent"
	UserRoleAdmin    = "admin"

	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Organization scopes tickets and users. Tenancy enforcement happens at
// the API layer; the engine only carries the id through.
type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// User is a member of an organization. Admins of a ticket's org are
// always part of the escalation audience.
type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrgID          uint           `gorm:"index" json:"org_id"`
	Username       string         `gorm:"unique;not null" json:"username"`
	Email          string         `gorm:"unique;not null" json:"email"`
	Name           string         `json:"name"`
	Role           string         `gorm:"default:'customer'" json:"role"`    // customer, agent, admin
	Status         string         `gorm:"default:'active'" json:"status"`    // active, inactive
	TelegramChatID int64          `gorm:"default:0" json:"telegram_chat_id"` // 0 = no telegram channel
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Ticket is the aggregate the SLA engine watches. The four *SentAt
// columns are idempotency markers: a null marker means the matching
// escalation has never been attempted, and claiming one is done with a
// conditional update so concurrent scans cannot double-send.
type Ticket struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrgID       uint   `gorm:"index" json:"org_id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	RequesterID uint   `gorm:"index" json:"requester_id"`
	AssigneeID  *uint  `gorm:"index" json:"assignee_id"`
	Priority    string `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	Status      string `gorm:"default:'open';index" json:"status"`
	Tags        string `json:"tags"`

	FirstResponseAt *time.Time `json:"first_response_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	ClosedAt        *time.Time `json:"closed_at"`

	// Derived from priority + created_at, recomputed on priority change.
	SLAResponseDueAt   time.Time `json:"sla_response_due_at"`
	SLAResolutionDueAt time.Time `json:"sla_resolution_due_at"`

	SLAResponseWarningSentAt   *time.Time `json:"sla_response_warning_sent_at"`
	SLAResponseBreachSentAt    *time.Time `json:"sla_response_breach_sent_at"`
	SLAResolutionWarningSentAt *time.Time `json:"sla_resolution_warning_sent_at"`
	SLAResolutionBreachSentAt  *time.Time `json:"sla_resolution_breach_sent_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Requester *User `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Assignee  *User `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
}

// Active reports whether the ticket is still inside the monitor's scan
// set (neither resolved nor closed).
func (t *Ticket) Active() bool {
	return t.Status != TicketStatusResolved && t.Status != TicketStatusClosed
}

// TicketStatusChange is an append-only history of lifecycle moves.
type TicketStatusChange struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLog records one row per escalation batch (not per recipient),
// carrying aggregate counts in the JSON metadata.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"size:36;uniqueIndex" json:"event_id"`
	Action    string    `gorm:"index;not null" json:"action"`
	OrgID     uint      `gorm:"index" json:"org_id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	Metadata  string    `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationDelivery records every per-recipient attempt. Markers on
// the ticket mean "attempted"; this table is where "delivered" lives,
// so failed channels can be retried manually without breaking scan
// idempotency.
type NotificationDelivery struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TicketID    uint      `gorm:"index" json:"ticket_id"`
	RecipientID uint      `gorm:"index" json:"recipient_id"`
	Threshold   string    `json:"threshold"` // response, resolution
	Severity    string    `json:"severity"`  // warning, breach
	Delivered   bool      `gorm:"index" json:"delivered"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
}
