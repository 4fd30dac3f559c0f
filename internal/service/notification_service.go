package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/jobs"
)

// JobTypeNotification is the job type handled by the notification queue.
const JobTypeNotification = "notification.dispatch"

type notificationStore interface {
	CreateBatch(ctx context.Context, items []models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Notification, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationService writes inbox entries for workflow events and serves the inbox.
type NotificationService struct {
	repo  notificationStore
	queue jobEnqueuer
	workflowDeps
}

// NewNotificationService constructs the service. Until a queue is attached, Notify dispatches
// inline.
func NewNotificationService(repo notificationStore, logger *zap.Logger, opts ...WorkflowOption) *NotificationService {
	return &NotificationService{repo: repo, workflowDeps: newWorkflowDeps(logger, opts)}
}

// UseQueue routes Notify through q. Handle must be the handler q runs.
func (s *NotificationService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// Notify implements Notifier. Enqueue failures are logged and swallowed.
func (s *NotificationService) Notify(ctx context.Context, req NotificationRequest) {
	if len(req.Recipients) == 0 {
		return
	}
	if s.queue == nil {
		if err := s.dispatch(ctx, req); err != nil {
			s.logger.Warn("notification dispatch failed", zap.String("type", string(req.Type)), zap.Error(err))
		}
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeNotification, Payload: req}
	if err := s.queue.Enqueue(job); err != nil {
		fields := []zap.Field{zap.String("type", string(req.Type)), zap.String("entity_id", req.EntityID), zap.Error(err)}
		if errors.Is(err, jobs.ErrQueueFull) {
			s.logger.Warn("notification dropped, queue full", fields...)
			return
		}
		s.logger.Error("failed to enqueue notification", fields...)
	}
}

// Handle is the queue handler for notification jobs.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(NotificationRequest)
	if !ok {
		return jobs.Permanent(fmt.Errorf("notification job %s: unexpected payload %T", job.ID, job.Payload))
	}
	return s.dispatch(ctx, req)
}

func (s *NotificationService) dispatch(ctx context.Context, req NotificationRequest) error {
	now := s.now()
	items := make([]models.Notification, 0, len(req.Recipients))
	seen := make(map[string]struct{}, len(req.Recipients))
	for _, userID := range req.Recipients {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		items = append(items, models.Notification{
			ID:         uuid.NewString(),
			UserID:     userID,
			Type:       req.Type,
			Title:      req.Title,
			Body:       req.Body,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			CreatedAt:  now,
		})
	}
	if len(items) == 0 {
		return nil
	}
	if err := s.repo.CreateBatch(ctx, items); err != nil {
		return err
	}
	for _, n := range items {
		s.publish(ctx, EventNotification, n, n.UserID)
	}
	return nil
}

// List returns a page of the actor's inbox.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	page := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	page.Normalise(20, 100)
	items, total, err := s.repo.List(ctx, models.NotificationFilter{
		UserID:     actor.ID,
		UnreadOnly: query.Unread,
		Page:       page.Page,
		PageSize:   page.PageSize,
	})
	if err != nil {
		return nil, nil, internalError(err, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	page.TotalCount = total
	return items, &page, nil
}

// MarkRead marks one of the actor's notifications read. Repeating it keeps the first read time.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error) {
	if actor.Anonymous() {
		return nil, appErrors.ErrUnauthorized
	}
	n, err := s.repo.MarkRead(ctx, id, actor.ID, s.now())
	if err != nil {
		return nil, notFound(err, "notification", "failed to mark notification read")
	}
	return n, nil
}
