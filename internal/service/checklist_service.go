package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

type checklistStore interface {
	Create(ctx context.Context, c *models.Checklist) error
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
	List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error)
	Update(ctx context.Context, next models.Checklist, expectedStatus models.AgreementStatus, expectedVersion int64) error
	Delete(ctx context.Context, id string, guard func(models.Checklist) error) error
}

// ChecklistService runs the agreement lifecycle: every change is a read, a pure transition
// and a conditional write, retried when another writer got there first.
type ChecklistService struct {
	repo      checklistStore
	validator *validator.Validate
	workflowDeps
}

// NewChecklistService constructs the service.
func NewChecklistService(repo checklistStore, validate *validator.Validate, logger *zap.Logger, opts ...WorkflowOption) *ChecklistService {
	if validate == nil {
		validate = validator.New()
	}
	return &ChecklistService{repo: repo, validator: validate, workflowDeps: newWorkflowDeps(logger, opts)}
}

// Create opens a checklist owned by actor.
func (s *ChecklistService) Create(ctx context.Context, actor models.Actor, req dto.CreateChecklistRequest, meta RequestMeta) (*workflow.ChecklistView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checklist payload")
	}

	c, err := workflow.NewChecklist(actor, models.ChecklistDraft{
		Title:               req.Title,
		Description:         req.Description,
		Items:               models.ChecklistItems(req.Items),
		AcceptanceThreshold: req.AcceptanceThreshold,
	}, s.now())
	if err != nil {
		return nil, s.observe("checklist", "create", err)
	}
	c.ID = uuid.NewString()

	if err := s.repo.Create(ctx, &c); err != nil {
		return nil, s.observe("checklist", "create", internalError(err, "failed to create checklist"))
	}
	s.observe("checklist", "create", nil)
	s.recordAudit(ctx, actor, meta, models.AuditActionChecklistCreate, "checklist", c.ID, nil, auditSnapshot(c))
	s.publishChecklist(ctx, c)

	view := workflow.ProjectChecklist(c, actor)
	return &view, nil
}

// Get returns the checklist as seen by actor.
func (s *ChecklistService) Get(ctx context.Context, actor models.Actor, id string) (*workflow.ChecklistView, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Require(actor, c, workflow.ActionView); err != nil {
		return nil, err
	}
	view := workflow.ProjectChecklist(*c, actor)
	return &view, nil
}

// List returns the checklists actor takes part in.
func (s *ChecklistService) List(ctx context.Context, actor models.Actor, query dto.ChecklistQuery) ([]workflow.ChecklistView, *models.Pagination, error) {
	switch query.Role {
	case "", models.ChecklistRoleSeller, models.ChecklistRoleBuyer:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "role must be seller or buyer")
	}
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}

	page := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	page.Normalise(20, 100)
	items, total, err := s.repo.List(ctx, models.ChecklistFilter{
		UserID:   actor.ID,
		Role:     query.Role,
		Statuses: query.Status,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to list checklists")
	}
	page.TotalCount = total

	views := make([]workflow.ChecklistView, 0, len(items))
	for _, c := range items {
		views = append(views, workflow.ProjectChecklist(c, actor))
	}
	return views, &page, nil
}

// Retitle changes title and description while the checklist is editable.
func (s *ChecklistService) Retitle(ctx context.Context, actor models.Actor, id string, req dto.UpdateChecklistRequest, meta RequestMeta) (*workflow.ChecklistView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checklist payload")
	}
	return s.apply(ctx, actor, id, "retitle", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.Retitle(c, actor, req.Title, req.Description, now)
	})
}

// ReviseItems replaces the items and recomputes the score.
func (s *ChecklistService) ReviseItems(ctx context.Context, actor models.Actor, id string, req dto.ReviseItemsRequest, meta RequestMeta) (*workflow.ChecklistView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checklist items")
	}
	return s.apply(ctx, actor, id, "revise_items", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.ReviseItems(c, actor, models.ChecklistItems(req.Items), now)
	})
}

// SetThreshold changes or clears the acceptance threshold.
func (s *ChecklistService) SetThreshold(ctx context.Context, actor models.Actor, id string, req dto.ThresholdRequest, meta RequestMeta) (*workflow.ChecklistView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acceptance threshold")
	}
	return s.apply(ctx, actor, id, "set_threshold", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.SetThreshold(c, actor, req.AcceptanceThreshold, now)
	})
}

// Submit turns a draft into an invitation.
func (s *ChecklistService) Submit(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ChecklistView, error) {
	return s.apply(ctx, actor, id, "submit", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.Submit(c, actor, now)
	})
}

// Accept attaches actor as the buyer of a pending invitation.
func (s *ChecklistService) Accept(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ChecklistView, error) {
	return s.apply(ctx, actor, id, "accept", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.AcceptInvite(c, actor, now)
	})
}

// SignAsSeller records the seller's signature once QC passes.
func (s *ChecklistService) SignAsSeller(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ChecklistView, error) {
	return s.apply(ctx, actor, id, "sign_seller", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.SignAsSeller(c, actor, now)
	})
}

// SignAsBuyer completes the agreement.
func (s *ChecklistService) SignAsBuyer(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ChecklistView, error) {
	return s.apply(ctx, actor, id, "sign_buyer", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.SignAsBuyer(c, actor, now)
	})
}

// Cancel ends the agreement for either party.
func (s *ChecklistService) Cancel(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ChecklistView, error) {
	return s.apply(ctx, actor, id, "cancel", meta, func(c models.Checklist, now time.Time) (models.Checklist, error) {
		return workflow.Cancel(c, actor, now)
	})
}

// Delete removes the checklist and its listings. The guard is re-checked against the row
// locked inside the delete transaction.
func (s *ChecklistService) Delete(ctx context.Context, actor models.Actor, id string, meta RequestMeta) error {
	var deleted models.Checklist
	err := s.repo.Delete(ctx, id, func(c models.Checklist) error {
		deleted = c
		return workflow.CanDelete(c, actor)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "checklist not found")
		}
		return s.observe("checklist", "delete", internalError(err, "failed to delete checklist"))
	}
	s.observe("checklist", "delete", nil)
	s.recordAudit(ctx, actor, meta, models.AuditActionChecklistDelete, "checklist", id, auditSnapshot(deleted), nil)
	s.publish(ctx, EventChecklistDeleted, map[string]string{"id": id}, deleted.Parties()...)
	s.invalidateMarketplace(ctx)
	return nil
}

// Load returns the raw snapshot for collaborating services.
func (s *ChecklistService) Load(ctx context.Context, id string) (*models.Checklist, error) {
	return s.load(ctx, id)
}

func (s *ChecklistService) load(ctx context.Context, id string) (*models.Checklist, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "checklist", "failed to load checklist")
	}
	return c, nil
}

type checklistTransition func(c models.Checklist, now time.Time) (models.Checklist, error)

// apply runs fn against the freshest snapshot and writes the result conditionally. A lost
// race reloads and re-runs the guard so the caller sees the error for the state that won.
func (s *ChecklistService) apply(ctx context.Context, actor models.Actor, id, action string, meta RequestMeta, fn checklistTransition) (*workflow.ChecklistView, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := fn(*current, s.now())
		if err != nil {
			return nil, s.observe("checklist", action, err)
		}
		err = s.repo.Update(ctx, next, current.AgreementStatus, current.Version)
		if err == nil {
			s.observe("checklist", action, nil)
			s.afterCommit(ctx, actor, action, *current, next, meta)
			view := workflow.ProjectChecklist(next, actor)
			return &view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe("checklist", action, internalError(err, "failed to update checklist"))
		}
		s.logger.Debug("checklist write lost a race",
			zap.String("checklist_id", id),
			zap.String("action", action),
			zap.Int("attempt", attempt))
	}
	return nil, s.observe("checklist", action, contention("checklist", id))
}

func (s *ChecklistService) afterCommit(ctx context.Context, actor models.Actor, action string, prev, next models.Checklist, meta RequestMeta) {
	auditAction := models.AuditActionChecklistTransition
	if prev.AgreementStatus == next.AgreementStatus {
		auditAction = models.AuditActionChecklistUpdate
	}
	s.recordAudit(ctx, actor, meta, auditAction, "checklist", next.ID, auditSnapshot(prev), auditSnapshot(next))
	s.publishChecklist(ctx, next)

	switch action {
	case "retitle", "revise_items":
		s.invalidateMarketplace(ctx)
	}

	if prev.AgreementStatus == next.AgreementStatus {
		return
	}
	switch next.AgreementStatus {
	case models.AgreementReadyToSign:
		s.notify(ctx, NotificationRequest{
			Recipients: []string{next.OwnerID},
			Type:       models.NotificationReadyToSign,
			Title:      fmt.Sprintf("%s was accepted", next.Title),
			Body:       "The buyer accepted your checklist. Review the inspection and sign when it passes.",
			EntityType: "checklist",
			EntityID:   next.ID,
		})
	case models.AgreementPartyASigned:
		s.notify(ctx, NotificationRequest{
			Recipients: others(next.Parties(), next.OwnerID),
			Type:       models.NotificationSellerSigned,
			Title:      fmt.Sprintf("%s is waiting for your signature", next.Title),
			Body:       "The seller signed the agreement.",
			EntityType: "checklist",
			EntityID:   next.ID,
		})
	case models.AgreementCompleted:
		s.notify(ctx, NotificationRequest{
			Recipients: next.Parties(),
			Type:       models.NotificationCompleted,
			Title:      fmt.Sprintf("%s is complete", next.Title),
			Body:       "Both parties signed. The agreement document is being prepared.",
			EntityType: "checklist",
			EntityID:   next.ID,
		})
		if s.documents != nil {
			s.documents.ScheduleAgreement(ctx, next.ID)
		}
	case models.AgreementCancelled:
		s.notify(ctx, NotificationRequest{
			Recipients: others(next.Parties(), actor.ID),
			Type:       models.NotificationCancelled,
			Title:      fmt.Sprintf("%s was cancelled", next.Title),
			Body:       fmt.Sprintf("The agreement was cancelled while %s.", prev.AgreementStatus),
			EntityType: "checklist",
			EntityID:   next.ID,
		})
	}
}

// publishChecklist pushes each party its own projection.
func (s *ChecklistService) publishChecklist(ctx context.Context, c models.Checklist) {
	for _, party := range c.Parties() {
		s.publish(ctx, EventChecklistUpdated, workflow.ProjectChecklist(c, models.Actor{ID: party}), party)
	}
}

func auditSnapshot(c models.Checklist) map[string]interface{} {
	return map[string]interface{}{
		"agreement_status": c.AgreementStatus,
		"score":            c.Score,
		"version":          c.Version,
		"items":            len(c.Items),
	}
}
