package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slapulse/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ticketTransitions is the fixed lifecycle table. Closed is terminal.
var ticketTransitions = map[string][]string{
	models.TicketStatusOpen:       {models.TicketStatusInProgress},
	models.TicketStatusInProgress: {models.TicketStatusResolved, models.TicketStatusOpen},
	models.TicketStatusResolved:   {models.TicketStatusClosed, models.TicketStatusInProgress},
	models.TicketStatusClosed:     {},
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to string) bool {
	for _, allowed := range ticketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TicketService owns ticket lifecycle and SLA bookkeeping. Status never
// changes except through UpdateStatus/AssignTicket, so every move goes
// through the transition table.
type TicketService struct {
	db     *gorm.DB
	logger *logrus.Logger
	policy *SLAPolicy
	tracer trace.Tracer
}

// NewTicketService creates the ticket service.
func NewTicketService(db *gorm.DB, logger *logrus.Logger, policy *SLAPolicy) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	if policy == nil {
		policy = DefaultSLAPolicy()
	}
	return &TicketService{
		db:     db,
		logger: logger,
		policy: policy,
		tracer: otel.Tracer("slapulse.ticket"),
	}
}

// Policy exposes the injected SLA policy to collaborators (the monitor
// shares it so due dates and evaluation never disagree).
func (s *TicketService) Policy() *SLAPolicy {
	return s.policy
}

// TicketCreateRequest carries the fields needed to open a ticket.
type TicketCreateRequest struct {
	OrgID       uint   `json:"org_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	RequesterID uint   `json:"requester_id" binding:"required"`
	Priority    string `json:"priority"`
	Tags        string `json:"tags"`
}

// TicketUpdateRequest is a partial update: nil means "leave alone".
// Assignment and status are deliberately not here; they have their own
// operations with side effects.
type TicketUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Tags        *string `json:"tags"`
}

// TicketListRequest filters and paginates the ticket list.
type TicketListRequest struct {
	Page       int      `form:"page,default=1"`
	PageSize   int      `form:"page_size,default=20"`
	OrgID      *uint    `form:"org_id"`
	Status     []string `form:"status"`
	Priority   []string `form:"priority"`
	AssigneeID *uint    `form:"assignee_id"`
	SortBy     string   `form:"sort_by,default=created_at"`
	SortOrder  string   `form:"sort_order,default=desc"`
}

// CreateTicket opens a ticket with due dates derived from its priority.
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create")
	defer span.End()

	if req.Priority == "" {
		req.Priority = models.TicketPriorityMedium
	}

	now := time.Now()
	ticket := &models.Ticket{
		OrgID:              req.OrgID,
		Title:              req.Title,
		Description:        req.Description,
		RequesterID:        req.RequesterID,
		Priority:           req.Priority,
		Status:             models.TicketStatusOpen,
		Tags:               req.Tags,
		CreatedAt:          now,
		SLAResponseDueAt:   s.policy.ResponseDueAt(req.Priority, now),
		SLAResolutionDueAt: s.policy.ResolutionDueAt(req.Priority, now),
	}

	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.recordStatusChange(ctx, s.db, ticket.ID, req.RequesterID, "", models.TicketStatusOpen, "ticket created")

	span.SetAttributes(
		attribute.Int64("ticket.id", int64(ticket.ID)),
		attribute.String("ticket.priority", ticket.Priority),
	)
	s.logger.Infof("Created ticket %d (org %d, priority %s)", ticket.ID, ticket.OrgID, ticket.Priority)
	return ticket, nil
}

// GetTicketByID loads one ticket with its assignee.
func (s *TicketService) GetTicketByID(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).Preload("Assignee").First(&ticket, ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// ListTickets returns a filtered, paginated page of tickets.
func (s *TicketService) ListTickets(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Ticket{})

	if req.OrgID != nil {
		query = query.Where("org_id = ?", *req.OrgID)
	}
	if len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	sortField := req.SortBy
	if sortField == "" {
		sortField = "created_at"
	}
	sortOrder := req.SortOrder
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	if req.PageSize > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * req.PageSize).Limit(req.PageSize)
	}

	var tickets []models.Ticket
	if err := query.Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// UpdateStatus moves a ticket through the lifecycle table. Entry
// actions: resolved stamps resolved_at (if unset), closed stamps
// closed_at, and reopening a resolved ticket clears resolved_at so a
// stale terminal timestamp never coexists with an active status.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID uint, newStatus string, userID uint) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket.id", int64(ticketID)),
		attribute.String("ticket.status.to", newStatus),
	)

	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(ticket.Status, newStatus) {
		err := &InvalidTransitionError{From: ticket.Status, To: newStatus}
		span.RecordError(err)
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": now,
	}
	switch newStatus {
	case models.TicketStatusResolved:
		if ticket.ResolvedAt == nil {
			updates["resolved_at"] = &now
		}
	case models.TicketStatusClosed:
		updates["closed_at"] = &now
	case models.TicketStatusInProgress:
		if ticket.Status == models.TicketStatusResolved {
			updates["resolved_at"] = nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		s.recordStatusChange(ctx, tx, ticketID, userID, ticket.Status, newStatus, "status update")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Infof("Ticket %d: %s -> %s (user %d)", ticketID, ticket.Status, newStatus, userID)
	return s.GetTicketByID(ctx, ticketID)
}

// AssignTicket assigns an agent. Assigning to an open ticket promotes
// it to in_progress; any other status is left alone.
func (s *TicketService) AssignTicket(ctx context.Context, ticketID uint, assigneeID uint, assignerID uint) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.assign")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket.id", int64(ticketID)),
		attribute.Int64("ticket.assignee_id", int64(assigneeID)),
	)

	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"assignee_id": assigneeID,
		"updated_at":  time.Now(),
	}

	fromStatus := ticket.Status
	toStatus := ticket.Status
	if fromStatus == models.TicketStatusOpen {
		toStatus = models.TicketStatusInProgress
		updates["status"] = toStatus
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to assign ticket: %w", err)
		}
		if toStatus != fromStatus {
			s.recordStatusChange(ctx, tx, ticketID, assignerID, fromStatus, toStatus,
				fmt.Sprintf("assigned to user %d", assigneeID))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Infof("Ticket %d assigned to user %d", ticketID, assigneeID)
	return s.GetTicketByID(ctx, ticketID)
}

// UnassignTicket clears the assignee. Unassigning never moves status.
func (s *TicketService) UnassignTicket(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	result := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(map[string]interface{}{
		"assignee_id": nil,
		"updated_at":  time.Now(),
	})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to unassign ticket: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrTicketNotFound
	}
	s.logger.Infof("Ticket %d unassigned", ticketID)
	return s.GetTicketByID(ctx, ticketID)
}

// ChangePriority recomputes SLA due dates from the new priority and the
// original created_at. The response deadline only moves while the
// ticket is still unanswered; a resolved or closed ticket rejects the
// change outright.
func (s *TicketService) ChangePriority(ctx context.Context, ticketID uint, newPriority string) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.change_priority")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket.id", int64(ticketID)),
		attribute.String("ticket.priority.to", newPriority),
	)

	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if !ticket.Active() {
		span.RecordError(ErrSLARecalculationRejected)
		return nil, ErrSLARecalculationRejected
	}

	updates := map[string]interface{}{
		"priority":              newPriority,
		"sla_resolution_due_at": s.policy.ResolutionDueAt(newPriority, ticket.CreatedAt),
		"updated_at":            time.Now(),
	}
	if ticket.FirstResponseAt == nil {
		updates["sla_response_due_at"] = s.policy.ResponseDueAt(newPriority, ticket.CreatedAt)
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to change priority: %w", err)
	}

	s.logger.Infof("Ticket %d priority %s -> %s, SLA due dates recomputed", ticketID, ticket.Priority, newPriority)
	return s.GetTicketByID(ctx, ticketID)
}

// RecordFirstResponse stamps first_response_at once. The conditional
// write keeps the first timestamp if two agents reply concurrently.
func (s *TicketService) RecordFirstResponse(ctx context.Context, ticketID uint, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND first_response_at IS NULL", ticketID).
		Updates(map[string]interface{}{"first_response_at": &at, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to record first response: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Infof("Ticket %d first response recorded at %s", ticketID, at.Format(time.RFC3339))
	}
	return nil
}

// UpdateTicket applies a partial content update (title/description/tags).
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID uint, req *TicketUpdateRequest) (*models.Ticket, error) {
	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if len(updates) == 0 {
		return s.GetTicketByID(ctx, ticketID)
	}
	updates["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrTicketNotFound
	}
	return s.GetTicketByID(ctx, ticketID)
}

// recordStatusChange appends a history row. Best effort: a failed
// history write is logged, not surfaced.
func (s *TicketService) recordStatusChange(ctx context.Context, tx *gorm.DB, ticketID, userID uint, from, to, reason string) {
	change := &models.TicketStatusChange{
		TicketID:   ticketID,
		UserID:     userID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := tx.WithContext(ctx).Create(change).Error; err != nil {
		s.logger.Errorf("Failed to record status change for ticket %d: %v", ticketID, err)
	}
}
