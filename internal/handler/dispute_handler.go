package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

type disputeService interface {
	File(ctx context.Context, actor models.Actor, checklistID string, req dto.FileDisputeRequest, meta service.RequestMeta) (*workflow.DisputeView, error)
	Get(ctx context.Context, actor models.Actor, id string) (*workflow.DisputeView, error)
	List(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error)
	ListForArbitration(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error)
	SubmitOffer(ctx context.Context, actor models.Actor, id string, req dto.SubmitOfferRequest, meta service.RequestMeta) (*workflow.DisputeView, error)
	Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveDisputeRequest, meta service.RequestMeta) (*workflow.DisputeView, error)
	PostMessage(ctx context.Context, actor models.Actor, id string, req dto.PostMessageRequest) (*models.DisputeMessage, error)
	ListMessages(ctx context.Context, actor models.Actor, id string, query dto.MessageQuery) ([]models.DisputeMessage, error)
}

// DisputeHandler exposes post-completion dispute endpoints.
type DisputeHandler struct {
	disputes disputeService
}

// NewDisputeHandler constructs DisputeHandler.
func NewDisputeHandler(disputes disputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// File godoc
// @Summary File a dispute on a completed agreement
// @Tags Disputes
// @Accept json
// @Produce json
// @Param id path string true "Checklist ID"
// @Param payload body dto.FileDisputeRequest true "Dispute payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/disputes [post]
func (h *DisputeHandler) File(c *gin.Context) {
	var req dto.FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid dispute payload"))
		return
	}
	view, err := h.disputes.File(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List my disputes
// @Tags Disputes
// @Produce json
// @Param status query []string false "Dispute status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /disputes [get]
func (h *DisputeHandler) List(c *gin.Context) {
	var query dto.DisputeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid dispute query"))
		return
	}
	views, pagination, err := h.disputes.List(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Arbitration godoc
// @Summary Arbitration queue
// @Description Escalated disputes unless a status filter is given
// @Tags Disputes
// @Produce json
// @Param status query []string false "Dispute status filter"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/disputes [get]
func (h *DisputeHandler) Arbitration(c *gin.Context) {
	var query dto.DisputeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid dispute query"))
		return
	}
	views, pagination, err := h.disputes.ListForArbitration(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Get godoc
// @Summary Get dispute
// @Tags Disputes
// @Produce json
// @Param id path string true "Dispute ID"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id} [get]
func (h *DisputeHandler) Get(c *gin.Context) {
	view, err := h.disputes.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// SubmitOffer godoc
// @Summary Seller proposes a remedy
// @Tags Disputes
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param payload body dto.SubmitOfferRequest true "Offer payload"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id}/offer [post]
func (h *DisputeHandler) SubmitOffer(c *gin.Context) {
	var req dto.SubmitOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid offer payload"))
		return
	}
	view, err := h.disputes.SubmitOffer(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Resolve godoc
// @Summary Buyer accepts or rejects the offer
// @Tags Disputes
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param payload body dto.ResolveDisputeRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id}/resolve [post]
func (h *DisputeHandler) Resolve(c *gin.Context) {
	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid resolution payload"))
		return
	}
	view, err := h.disputes.Resolve(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Messages godoc
// @Summary List dispute chat messages
// @Tags Disputes
// @Produce json
// @Param id path string true "Dispute ID"
// @Param after query int false "Return messages after this sequence number"
// @Param limit query int false "Maximum messages"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id}/messages [get]
func (h *DisputeHandler) Messages(c *gin.Context) {
	var query dto.MessageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid message query"))
		return
	}
	messages, err := h.disputes.ListMessages(c.Request.Context(), actorFromContext(c), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, messages)
}

// PostMessage godoc
// @Summary Post a dispute chat message
// @Tags Disputes
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param payload body dto.PostMessageRequest true "Message payload"
// @Success 201 {object} response.Envelope
// @Router /disputes/{id}/messages [post]
func (h *DisputeHandler) PostMessage(c *gin.Context) {
	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid message payload"))
		return
	}
	message, err := h.disputes.PostMessage(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, message)
}
