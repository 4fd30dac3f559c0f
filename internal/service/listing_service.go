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

const (
	marketplaceCachePattern = "marketplace:*"
	marketplaceCacheKey     = "marketplace:feed:p%d:s%d"
)

type listingStore interface {
	Create(ctx context.Context, l *models.Listing) error
	FindByID(ctx context.Context, id string) (*models.Listing, error)
	List(ctx context.Context, filter models.ListingFilter) ([]models.Listing, int, error)
	Maintain(ctx context.Context, id, sellerID string, at time.Time) error
	Delete(ctx context.Context, id, sellerID string) error
}

type checklistReader interface {
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
}

// MarketplacePage is the cached body of one public feed page.
type MarketplacePage struct {
	Items []models.Listing `json:"items"`
	Total int              `json:"total"`
}

// ListingService gates the marketplace on a perfect score and tracks listing freshness.
type ListingService struct {
	repo       listingStore
	checklists checklistReader
	validator  *validator.Validate
	cacheTTL   time.Duration
	workflowDeps
}

// NewListingService constructs the service. cacheTTL bounds how long a public feed page is served
// from cache.
func NewListingService(repo listingStore, checklists checklistReader, validate *validator.Validate, cacheTTL time.Duration, logger *zap.Logger, opts ...WorkflowOption) *ListingService {
	if validate == nil {
		validate = validator.New()
	}
	return &ListingService{
		repo:         repo,
		checklists:   checklists,
		validator:    validate,
		cacheTTL:     cacheTTL,
		workflowDeps: newWorkflowDeps(logger, opts),
	}
}

// Publish advertises a checklist whose items all pass.
func (s *ListingService) Publish(ctx context.Context, actor models.Actor, req dto.PublishListingRequest, meta RequestMeta) (*workflow.ListingView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid listing payload")
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		c, err := s.checklists.FindByID(ctx, req.ChecklistID)
		if err != nil {
			return nil, s.observe("listing", "publish", notFound(err, "checklist", "failed to load checklist"))
		}
		now := s.now()
		listing, err := workflow.Publish(*c, actor, req.Price, req.Contact, now)
		if err != nil {
			return nil, s.observe("listing", "publish", err)
		}
		listing.ID = uuid.NewString()

		err = s.repo.Create(ctx, &listing)
		if err == nil {
			s.observe("listing", "publish", nil)
			s.recordAudit(ctx, actor, meta, models.AuditActionListingPublish, "listing", listing.ID, nil, listing)
			s.invalidateMarketplace(ctx)
			view := workflow.ProjectListing(listing, now)
			s.publish(ctx, EventListingUpdated, view, listing.SellerID)
			return &view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe("listing", "publish", internalError(err, "failed to publish listing"))
		}
		// The score changed between the read and the insert; reload so the guard explains why.
		s.logger.Debug("listing insert lost a race", zap.String("checklist_id", req.ChecklistID), zap.Int("attempt", attempt))
	}
	return nil, s.observe("listing", "publish", contention("checklist", req.ChecklistID))
}

// PublicFeed returns fresh listings of checklists that still score 100. The flag reports a
// cache hit.
func (s *ListingService) PublicFeed(ctx context.Context, query dto.ListingQuery) ([]workflow.ListingView, *models.Pagination, bool, error) {
	page := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	page.Normalise(20, 100)

	var cached MarketplacePage
	key := fmt.Sprintf(marketplaceCacheKey, page.Page, page.PageSize)
	hit, err := s.cache.Remember(ctx, key, s.cacheTTL, &cached, func(ctx context.Context) (interface{}, error) {
		cutoff := workflow.FreshCutoff(s.now())
		items, total, err := s.repo.List(ctx, models.ListingFilter{
			MaintainedAfter: &cutoff,
			EligibleOnly:    true,
			Page:            page.Page,
			PageSize:        page.PageSize,
		})
		if err != nil {
			return nil, err
		}
		return MarketplacePage{Items: items, Total: total}, nil
	})
	if err != nil {
		return nil, nil, false, internalError(err, "failed to load marketplace")
	}

	// A cached page may hold listings that went stale since it was filled.
	now := s.now()
	views := make([]workflow.ListingView, 0, len(cached.Items))
	dropped := 0
	for _, l := range cached.Items {
		view := workflow.ProjectListing(l, now)
		if view.Stale {
			dropped++
			continue
		}
		views = append(views, view)
	}
	// Rows past this page that went stale are only discounted once the cache entry expires.
	page.TotalCount = cached.Total - dropped
	if page.TotalCount < 0 {
		page.TotalCount = 0
	}
	return views, &page, hit, nil
}

// Mine returns every listing of the seller, stale ones included.
func (s *ListingService) Mine(ctx context.Context, actor models.Actor, query dto.ListingQuery) ([]workflow.ListingView, *models.Pagination, error) {
	page := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	page.Normalise(20, 100)
	items, total, err := s.repo.List(ctx, models.ListingFilter{SellerID: actor.ID, Page: page.Page, PageSize: page.PageSize})
	if err != nil {
		return nil, nil, internalError(err, "failed to list listings")
	}
	page.TotalCount = total

	now := s.now()
	views := make([]workflow.ListingView, 0, len(items))
	for _, l := range items {
		views = append(views, workflow.ProjectListing(l, now))
	}
	return views, &page, nil
}

// Maintain resets the staleness clock.
func (s *ListingService) Maintain(ctx context.Context, actor models.Actor, id string, meta RequestMeta) (*workflow.ListingView, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	next, err := workflow.Maintain(*current, actor, now)
	if err != nil {
		return nil, s.observe("listing", "maintain", err)
	}
	if err := s.repo.Maintain(ctx, id, actor.ID, next.LastMaintainedAt); err != nil {
		return nil, s.observe("listing", "maintain", notFound(err, "listing", "failed to maintain listing"))
	}
	s.observe("listing", "maintain", nil)
	s.recordAudit(ctx, actor, meta, models.AuditActionListingMaintain, "listing", id,
		map[string]interface{}{"last_maintained_at": current.LastMaintainedAt},
		map[string]interface{}{"last_maintained_at": next.LastMaintainedAt})
	s.invalidateMarketplace(ctx)
	view := workflow.ProjectListing(next, now)
	s.publish(ctx, EventListingUpdated, view, next.SellerID)
	return &view, nil
}

// Unpublish hard deletes the seller's listing.
func (s *ListingService) Unpublish(ctx context.Context, actor models.Actor, id string, meta RequestMeta) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := workflow.Unpublish(*current, actor); err != nil {
		return s.observe("listing", "unpublish", err)
	}
	if err := s.repo.Delete(ctx, id, actor.ID); err != nil {
		return s.observe("listing", "unpublish", notFound(err, "listing", "failed to unpublish listing"))
	}
	s.observe("listing", "unpublish", nil)
	s.recordAudit(ctx, actor, meta, models.AuditActionListingUnpublish, "listing", id, current, nil)
	s.invalidateMarketplace(ctx)
	s.publish(ctx, EventListingRemoved, map[string]string{"id": id}, current.SellerID)
	return nil
}

func (s *ListingService) load(ctx context.Context, id string) (*models.Listing, error) {
	l, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "listing", "failed to load listing")
	}
	return l, nil
}
