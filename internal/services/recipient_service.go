package services

import (
	"context"
	"errors"
	"fmt"

	"slapulse/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecipientResolver computes who gets an escalation for a ticket.
type RecipientResolver interface {
	ResolveEscalationRecipients(ctx context.Context, ticket *models.Ticket) ([]models.User, error)
}

// RecipientService resolves escalation audiences from the user table:
// the active assignee (first) plus every active admin in the ticket's
// org, deduplicated by user id. Lookups are independent and uncached.
type RecipientService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRecipientService creates the resolver.
func NewRecipientService(db *gorm.DB, logger *logrus.Logger) *RecipientService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecipientService{db: db, logger: logger}
}

// GetUserByID loads a single user.
func (s *RecipientService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListActiveAdmins returns all active admin users in an org.
func (s *RecipientService) ListActiveAdmins(ctx context.Context, orgID uint) ([]models.User, error) {
	var admins []models.User
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND role = ? AND status = ?", orgID, models.UserRoleAdmin, models.UserStatusActive).
		Order("id ASC").
		Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active admins: %w", err)
	}
	return admins, nil
}

// ResolveEscalationRecipients composes the two lookups. An inactive or
// missing assignee is silently skipped.
func (s *RecipientService) ResolveEscalationRecipients(ctx context.Context, ticket *models.Ticket) ([]models.User, error) {
	seen := make(map[uint]bool)
	recipients := make([]models.User, 0, 4)

	if ticket.AssigneeID != nil {
		assignee, err := s.GetUserByID(ctx, *ticket.AssigneeID)
		if err != nil {
			return nil, err
		}
		if assignee != nil && assignee.Status == models.UserStatusActive {
			recipients = append(recipients, *assignee)
			seen[assignee.ID] = true
		}
	}

	admins, err := s.ListActiveAdmins(ctx, ticket.OrgID)
	if err != nil {
		return nil, err
	}
	for _, admin := range admins {
		if seen[admin.ID] {
			continue
		}
		recipients = append(recipients, admin)
		seen[admin.ID] = true
	}

	return recipients, nil
}
