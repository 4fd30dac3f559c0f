package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/middleware"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

type listingService interface {
	Publish(ctx context.Context, actor models.Actor, req dto.PublishListingRequest, meta service.RequestMeta) (*workflow.ListingView, error)
	PublicFeed(ctx context.Context, query dto.ListingQuery) ([]workflow.ListingView, *models.Pagination, bool, error)
	Mine(ctx context.Context, actor models.Actor, query dto.ListingQuery) ([]workflow.ListingView, *models.Pagination, error)
	Maintain(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ListingView, error)
	Unpublish(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) error
}

// ListingHandler exposes marketplace endpoints.
type ListingHandler struct {
	listings listingService
}

// NewListingHandler constructs ListingHandler.
func NewListingHandler(listings listingService) *ListingHandler {
	return &ListingHandler{listings: listings}
}

// Marketplace godoc
// @Summary Public marketplace feed
// @Description Fully passing listings maintained within the last 90 days
// @Tags Marketplace
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /marketplace/listings [get]
func (h *ListingHandler) Marketplace(c *gin.Context) {
	var query dto.ListingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid listing query"))
		return
	}
	start := time.Now()
	views, pagination, cacheHit, err := h.listings.PublicFeed(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, views, pagination, meta)
}

// Publish godoc
// @Summary Publish a listing
// @Description Requires a checklist owned by the caller with every item passing
// @Tags Marketplace
// @Accept json
// @Produce json
// @Param payload body dto.PublishListingRequest true "Listing payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /listings [post]
func (h *ListingHandler) Publish(c *gin.Context) {
	var req dto.PublishListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid listing payload"))
		return
	}
	view, err := h.listings.Publish(c.Request.Context(), actorFromContext(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Mine godoc
// @Summary List my listings including stale ones
// @Tags Marketplace
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /listings/mine [get]
func (h *ListingHandler) Mine(c *gin.Context) {
	var query dto.ListingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid listing query"))
		return
	}
	views, pagination, err := h.listings.Mine(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Maintain godoc
// @Summary Refresh a listing
// @Tags Marketplace
// @Produce json
// @Param id path string true "Listing ID"
// @Success 200 {object} response.Envelope
// @Router /listings/{id}/maintain [post]
func (h *ListingHandler) Maintain(c *gin.Context) {
	view, err := h.listings.Maintain(c.Request.Context(), actorFromContext(c), c.Param("id"), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Unpublish godoc
// @Summary Remove a listing
// @Tags Marketplace
// @Param id path string true "Listing ID"
// @Success 204 {object} response.Envelope
// @Router /listings/{id} [delete]
func (h *ListingHandler) Unpublish(c *gin.Context) {
	if err := h.listings.Unpublish(c.Request.Context(), actorFromContext(c), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
