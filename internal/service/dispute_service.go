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

type disputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	FindByID(ctx context.Context, id string) (*models.Dispute, error)
	Update(ctx context.Context, next models.Dispute, expectedStatus models.DisputeStatus, expectedVersion int64) error
	List(ctx context.Context, filter models.DisputeFilter) ([]models.Dispute, int, error)
	CreateMessage(ctx context.Context, m *models.DisputeMessage) error
	ListMessages(ctx context.Context, disputeID string, afterSeq int64, limit int) ([]models.DisputeMessage, error)
}

// DisputeService runs the post-completion grievance flow between buyer and seller.
type DisputeService struct {
	repo       disputeStore
	checklists checklistReader
	validator  *validator.Validate
	workflowDeps
}

// NewDisputeService constructs the service.
func NewDisputeService(repo disputeStore, checklists checklistReader, validate *validator.Validate, logger *zap.Logger, opts ...WorkflowOption) *DisputeService {
	if validate == nil {
		validate = validator.New()
	}
	return &DisputeService{repo: repo, checklists: checklists, validator: validate, workflowDeps: newWorkflowDeps(logger, opts)}
}

// File opens a dispute on a completed agreement for its buyer.
func (s *DisputeService) File(ctx context.Context, actor models.Actor, checklistID string, req dto.FileDisputeRequest, meta RequestMeta) (*workflow.DisputeView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dispute payload")
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		c, err := s.checklists.FindByID(ctx, checklistID)
		if err != nil {
			return nil, notFound(err, "checklist", "failed to load checklist")
		}
		d, err := workflow.FileDispute(*c, actor, req.Reason, s.now())
		if err != nil {
			return nil, s.observe("dispute", "file", err)
		}
		d.ID = uuid.NewString()

		err = s.repo.Create(ctx, &d)
		if err == nil {
			s.observe("dispute", "file", nil)
			s.afterCommit(ctx, actor, "file", nil, d, meta)
			view := workflow.ProjectDispute(d, actor)
			return &view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe("dispute", "file", internalError(err, "failed to file dispute"))
		}
		s.logger.Debug("dispute insert lost a race", zap.String("checklist_id", checklistID), zap.Int("attempt", attempt))
	}
	return nil, s.observe("dispute", "file", contention("checklist", checklistID))
}

// Get returns the dispute to a party or an arbitrator.
func (s *DisputeService) Get(ctx context.Context, actor models.Actor, id string) (*workflow.DisputeView, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Require(actor, d, workflow.ActionView); err != nil {
		return nil, err
	}
	view := workflow.ProjectDispute(*d, actor)
	return &view, nil
}

// List returns the disputes actor is a party to.
func (s *DisputeService) List(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error) {
	return s.list(ctx, actor, actor.ID, query)
}

// ListForArbitration returns disputes across all parties, ESCALATED by default. Callers must
// restrict it to administrators.
func (s *DisputeService) ListForArbitration(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error) {
	if actor.Role != models.RoleAdmin {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "arbitration queue requires an administrator")
	}
	if len(query.Status) == 0 {
		query.Status = []models.DisputeStatus{models.DisputeEscalated}
	}
	return s.list(ctx, actor, "", query)
}

func (s *DisputeService) list(ctx context.Context, actor models.Actor, partyID string, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	page := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	page.Normalise(20, 100)
	items, total, err := s.repo.List(ctx, models.DisputeFilter{
		PartyID:  partyID,
		Statuses: query.Status,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to list disputes")
	}
	page.TotalCount = total

	views := make([]workflow.DisputeView, 0, len(items))
	for _, d := range items {
		views = append(views, workflow.ProjectDispute(d, actor))
	}
	return views, &page, nil
}

// SubmitOffer records the seller's remedy.
func (s *DisputeService) SubmitOffer(ctx context.Context, actor models.Actor, id string, req dto.SubmitOfferRequest, meta RequestMeta) (*workflow.DisputeView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid offer payload")
	}
	return s.apply(ctx, actor, id, "submit_offer", meta, func(d models.Dispute, now time.Time) (models.Dispute, error) {
		return workflow.SubmitOffer(d, actor, req.Offer, now)
	})
}

// Resolve closes or escalates the dispute on the buyer's answer.
func (s *DisputeService) Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveDisputeRequest, meta RequestMeta) (*workflow.DisputeView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}
	accepted := *req.Accepted
	return s.apply(ctx, actor, id, "resolve", meta, func(d models.Dispute, now time.Time) (models.Dispute, error) {
		return workflow.Resolve(d, actor, accepted, now)
	})
}

// PostMessage appends to the dispute chat while it is open.
func (s *DisputeService) PostMessage(ctx context.Context, actor models.Actor, id string, req dto.PostMessageRequest) (*models.DisputeMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	msg, err := workflow.PostMessage(*d, actor, req.Body, s.now())
	if err != nil {
		return nil, s.observe("dispute", "post_message", err)
	}
	msg.ID = uuid.NewString()

	if err := s.repo.CreateMessage(ctx, &msg); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe("dispute", "post_message", internalError(err, "failed to post message"))
		}
		// The dispute was resolved after the read; report the guard for its new state.
		latest, loadErr := s.load(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		if _, guardErr := workflow.PostMessage(*latest, actor, req.Body, s.now()); guardErr != nil {
			return nil, s.observe("dispute", "post_message", guardErr)
		}
		return nil, s.observe("dispute", "post_message", contention("dispute", id))
	}
	s.observe("dispute", "post_message", nil)
	s.publish(ctx, EventDisputeMessage, msg, d.Parties()...)
	s.notify(ctx, NotificationRequest{
		Recipients: others(d.Parties(), actor.ID),
		Type:       models.NotificationDisputeMessage,
		Title:      "New message on your dispute",
		Body:       truncate(msg.Body, 140),
		EntityType: "dispute",
		EntityID:   d.ID,
	})
	return &msg, nil
}

// ListMessages returns chat entries after the given sequence number.
func (s *DisputeService) ListMessages(ctx context.Context, actor models.Actor, id string, query dto.MessageQuery) ([]models.DisputeMessage, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Require(actor, d, workflow.ActionView); err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessages(ctx, id, query.After, query.Limit)
	if err != nil {
		return nil, internalError(err, "failed to list messages")
	}
	if messages == nil {
		messages = []models.DisputeMessage{}
	}
	return messages, nil
}

func (s *DisputeService) load(ctx context.Context, id string) (*models.Dispute, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "dispute", "failed to load dispute")
	}
	return d, nil
}

type disputeTransition func(d models.Dispute, now time.Time) (models.Dispute, error)

func (s *DisputeService) apply(ctx context.Context, actor models.Actor, id, action string, meta RequestMeta, fn disputeTransition) (*workflow.DisputeView, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := fn(*current, s.now())
		if err != nil {
			return nil, s.observe("dispute", action, err)
		}
		err = s.repo.Update(ctx, next, current.Status, current.Version)
		if err == nil {
			s.observe("dispute", action, nil)
			s.afterCommit(ctx, actor, action, current, next, meta)
			view := workflow.ProjectDispute(next, actor)
			return &view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe("dispute", action, internalError(err, "failed to update dispute"))
		}
		s.logger.Debug("dispute write lost a race",
			zap.String("dispute_id", id),
			zap.String("action", action),
			zap.Int("attempt", attempt))
	}
	return nil, s.observe("dispute", action, contention("dispute", id))
}

func (s *DisputeService) afterCommit(ctx context.Context, actor models.Actor, action string, prev *models.Dispute, next models.Dispute, meta RequestMeta) {
	var before interface{}
	if prev != nil {
		before = map[string]interface{}{"status": prev.Status, "version": prev.Version}
	}
	s.recordAudit(ctx, actor, meta, models.AuditActionDisputeTransition, "dispute", next.ID, before,
		map[string]interface{}{"status": next.Status, "version": next.Version, "action": action})

	for _, party := range next.Parties() {
		s.publish(ctx, EventDisputeUpdated, workflow.ProjectDispute(next, models.Actor{ID: party}), party)
	}

	req := NotificationRequest{
		Recipients: others(next.Parties(), actor.ID),
		EntityType: "dispute",
		EntityID:   next.ID,
	}
	switch next.Status {
	case models.DisputeInitiated:
		req.Type = models.NotificationDisputeFiled
		req.Title = "A dispute was filed on your agreement"
		req.Body = truncate(next.Reason, 140)
	case models.DisputeSellerResponded:
		req.Type = models.NotificationOfferSubmitted
		req.Title = "The seller responded to your dispute"
		req.Body = truncate(derefString(next.SellerOffer), 140)
	case models.DisputeClosed, models.DisputeEscalated:
		req.Type = models.NotificationDisputeResolved
		req.Title = fmt.Sprintf("Dispute %s", next.Status)
		req.Body = derefString(next.Resolution)
	default:
		return
	}
	s.notify(ctx, req)
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
