package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/realtime"
)

// Event types pushed on the live stream.
const (
	EventChecklistUpdated = "checklist.updated"
	EventChecklistDeleted = "checklist.deleted"
	EventListingUpdated   = "listing.updated"
	EventListingRemoved   = "listing.removed"
	EventDisputeUpdated   = "dispute.updated"
	EventDisputeMessage   = "dispute.message"
	EventNotification     = "notification.created"
)

// maxTransitionAttempts bounds the read, transition, conditional-write loop.
const maxTransitionAttempts = 3

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// NotificationRequest describes one inbox fan-out.
type NotificationRequest struct {
	Recipients []string
	Type       models.NotificationType
	Title      string
	Body       string
	EntityType string
	EntityID   string
}

// Notifier dispatches notifications in the background. Implementations must not block and
// must never surface dispatch failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest)
}

// DocumentScheduler queues rendering of the signed agreement.
type DocumentScheduler interface {
	ScheduleAgreement(ctx context.Context, checklistID string)
}

// RequestMeta carries client details recorded on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type workflowDeps struct {
	audit     auditLogger
	publisher realtime.Publisher
	notifier  Notifier
	documents DocumentScheduler
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// WorkflowOption wires optional collaborators into the workflow services.
type WorkflowOption func(*workflowDeps)

// WithAuditLogger records committed transitions.
func WithAuditLogger(audit auditLogger) WorkflowOption {
	return func(d *workflowDeps) { d.audit = audit }
}

// WithPublisher pushes projected views to connected clients.
func WithPublisher(p realtime.Publisher) WorkflowOption {
	return func(d *workflowDeps) { d.publisher = p }
}

// WithNotifier dispatches inbox notifications for workflow events.
func WithNotifier(n Notifier) WorkflowOption {
	return func(d *workflowDeps) { d.notifier = n }
}

// WithDocumentScheduler queues agreement rendering on completion.
func WithDocumentScheduler(s DocumentScheduler) WorkflowOption {
	return func(d *workflowDeps) { d.documents = s }
}

// WithCache sets the marketplace cache to invalidate on listing changes.
func WithCache(c *CacheService) WorkflowOption {
	return func(d *workflowDeps) { d.cache = c }
}

// WithMetrics records transition outcomes.
func WithMetrics(m *MetricsService) WorkflowOption {
	return func(d *workflowDeps) { d.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) WorkflowOption {
	return func(d *workflowDeps) {
		if now != nil {
			d.now = now
		}
	}
}

func newWorkflowDeps(logger *zap.Logger, opts []WorkflowOption) workflowDeps {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := workflowDeps{logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	return deps
}

// observe records the outcome of a transition attempt and passes err through.
func (d *workflowDeps) observe(entity, action string, err error) error {
	switch {
	case err == nil:
		d.metrics.RecordTransition(entity, action, OutcomeCommitted, "")
	case errors.Is(err, appErrors.ErrTransitionContention):
		d.metrics.RecordTransition(entity, action, OutcomeConflict, appErrors.CodeOf(err))
	case isGuardError(err):
		d.metrics.RecordTransition(entity, action, OutcomeRejected, appErrors.CodeOf(err))
	default:
		d.metrics.RecordTransition(entity, action, OutcomeError, "")
	}
	return err
}

func isGuardError(err error) bool {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Status >= 400 && appErr.Status < 500
}

func (d *workflowDeps) recordAudit(ctx context.Context, actor models.Actor, meta RequestMeta, action, resource, resourceID string, before, after interface{}) {
	if d.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  d.now(),
	}
	if actor.ID != "" {
		id := actor.ID
		entry.UserID = &id
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := d.audit.CreateAuditLog(ctx, entry); err != nil {
		d.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func (d *workflowDeps) publish(ctx context.Context, eventType string, data interface{}, audience ...string) {
	if d.publisher == nil || len(audience) == 0 {
		return
	}
	event, err := realtime.NewEvent(eventType, data, audience...)
	if err != nil {
		d.logger.Warn("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (d *workflowDeps) notify(ctx context.Context, req NotificationRequest) {
	if d.notifier == nil || len(req.Recipients) == 0 {
		return
	}
	d.notifier.Notify(ctx, req)
}

func (d *workflowDeps) invalidateMarketplace(ctx context.Context) {
	d.cache.Invalidate(ctx, marketplaceCachePattern)
}

// internalError wraps unexpected store failures, passing typed errors through.
func internalError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// notFound maps sql.ErrNoRows to a typed NOT_FOUND error.
func notFound(err error, what, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return internalError(err, message)
}

func contention(entity, id string) error {
	return appErrors.WithDetails(appErrors.ErrTransitionContention, "", map[string]interface{}{
		"entity": entity,
		"id":     id,
	})
}

func others(userIDs []string, except string) []string {
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" && id != except {
			out = append(out, id)
		}
	}
	return out
}
