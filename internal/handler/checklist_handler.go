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

type checklistService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateChecklistRequest, meta service.RequestMeta) (*workflow.ChecklistView, error)
	Get(ctx context.Context, actor models.Actor, id string) (*workflow.ChecklistView, error)
	List(ctx context.Context, actor models.Actor, query dto.ChecklistQuery) ([]workflow.ChecklistView, *models.Pagination, error)
	Retitle(ctx context.Context, actor models.Actor, id string, req dto.UpdateChecklistRequest, meta service.RequestMeta) (*workflow.ChecklistView, error)
	ReviseItems(ctx context.Context, actor models.Actor, id string, req dto.ReviseItemsRequest, meta service.RequestMeta) (*workflow.ChecklistView, error)
	SetThreshold(ctx context.Context, actor models.Actor, id string, req dto.ThresholdRequest, meta service.RequestMeta) (*workflow.ChecklistView, error)
	Submit(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)
	Accept(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)
	SignAsSeller(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)
	SignAsBuyer(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)
	Cancel(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)
	Delete(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) error
}

type inspectionExporter interface {
	Inspection(ctx context.Context, actor models.Actor, checklistID, format string) (*service.ExportResult, error)
}

type agreementLinker interface {
	Link(ctx context.Context, actor models.Actor, checklistID string) (*dto.DocumentLink, error)
}

// ChecklistHandler exposes checklist and agreement endpoints.
type ChecklistHandler struct {
	checklists checklistService
	exports    inspectionExporter
	documents  agreementLinker
}

// NewChecklistHandler constructs ChecklistHandler.
func NewChecklistHandler(checklists checklistService, exports inspectionExporter, documents agreementLinker) *ChecklistHandler {
	return &ChecklistHandler{checklists: checklists, exports: exports, documents: documents}
}

type checklistTransition func(ctx context.Context, actor models.Actor, id string, meta service.RequestMeta) (*workflow.ChecklistView, error)

// Create godoc
// @Summary Create checklist
// @Description Opens a draft request, or an invitation when items are supplied
// @Tags Checklists
// @Accept json
// @Produce json
// @Param payload body dto.CreateChecklistRequest true "Checklist payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /checklists [post]
func (h *ChecklistHandler) Create(c *gin.Context) {
	var req dto.CreateChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid checklist payload"))
		return
	}
	view, err := h.checklists.Create(c.Request.Context(), actorFromContext(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List my checklists
// @Tags Checklists
// @Produce json
// @Param role query string false "seller or buyer"
// @Param status query []string false "Agreement status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /checklists [get]
func (h *ChecklistHandler) List(c *gin.Context) {
	var query dto.ChecklistQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid checklist query"))
		return
	}
	views, pagination, err := h.checklists.List(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Get godoc
// @Summary Get checklist
// @Tags Checklists
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /checklists/{id} [get]
func (h *ChecklistHandler) Get(c *gin.Context) {
	view, err := h.checklists.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Retitle godoc
// @Summary Update checklist title and description
// @Tags Checklists
// @Accept json
// @Produce json
// @Param id path string true "Checklist ID"
// @Param payload body dto.UpdateChecklistRequest true "Title payload"
// @Success 200 {object} response.Envelope
// @Router /checklists/{id} [put]
func (h *ChecklistHandler) Retitle(c *gin.Context) {
	var req dto.UpdateChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid checklist payload"))
		return
	}
	view, err := h.checklists.Retitle(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// ReviseItems godoc
// @Summary Replace checklist items
// @Description Rescores the checklist. Only allowed before the buyer accepts.
// @Tags Checklists
// @Accept json
// @Produce json
// @Param id path string true "Checklist ID"
// @Param payload body dto.ReviseItemsRequest true "Items payload"
// @Success 200 {object} response.Envelope
// @Router /checklists/{id}/items [put]
func (h *ChecklistHandler) ReviseItems(c *gin.Context) {
	var req dto.ReviseItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid items payload"))
		return
	}
	view, err := h.checklists.ReviseItems(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// SetThreshold godoc
// @Summary Set acceptance threshold
// @Tags Checklists
// @Accept json
// @Produce json
// @Param id path string true "Checklist ID"
// @Param payload body dto.ThresholdRequest true "Threshold payload"
// @Success 200 {object} response.Envelope
// @Router /checklists/{id}/threshold [put]
func (h *ChecklistHandler) SetThreshold(c *gin.Context) {
	var req dto.ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid threshold payload"))
		return
	}
	view, err := h.checklists.SetThreshold(c.Request.Context(), actorFromContext(c), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Submit godoc
// @Summary Send the checklist to the buyer
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/submit [post]
func (h *ChecklistHandler) Submit(c *gin.Context) {
	h.transition(c, h.checklists.Submit)
}

// Accept godoc
// @Summary Accept an invitation as buyer
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/accept [post]
func (h *ChecklistHandler) Accept(c *gin.Context) {
	h.transition(c, h.checklists.Accept)
}

// SignAsSeller godoc
// @Summary Sign the agreement as seller
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /checklists/{id}/sign/seller [post]
func (h *ChecklistHandler) SignAsSeller(c *gin.Context) {
	h.transition(c, h.checklists.SignAsSeller)
}

// SignAsBuyer godoc
// @Summary Countersign the agreement as buyer
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/sign/buyer [post]
func (h *ChecklistHandler) SignAsBuyer(c *gin.Context) {
	h.transition(c, h.checklists.SignAsBuyer)
}

// Cancel godoc
// @Summary Cancel the agreement
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Router /checklists/{id}/cancel [post]
func (h *ChecklistHandler) Cancel(c *gin.Context) {
	h.transition(c, h.checklists.Cancel)
}

// Delete godoc
// @Summary Delete checklist
// @Description Removes the checklist and its listings
// @Tags Checklists
// @Param id path string true "Checklist ID"
// @Success 204 {object} response.Envelope
// @Router /checklists/{id} [delete]
func (h *ChecklistHandler) Delete(c *gin.Context) {
	if err := h.checklists.Delete(c.Request.Context(), actorFromContext(c), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export inspection results
// @Tags Checklists
// @Produce text/csv,application/pdf
// @Param id path string true "Checklist ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /checklists/{id}/export [get]
func (h *ChecklistHandler) Export(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid export query"))
		return
	}
	result, err := h.exports.Inspection(c.Request.Context(), actorFromContext(c), c.Param("id"), query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Payload)
}

// Document godoc
// @Summary Get a signed download link for the agreement PDF
// @Tags Agreements
// @Produce json
// @Param id path string true "Checklist ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checklists/{id}/document [get]
func (h *ChecklistHandler) Document(c *gin.Context) {
	link, err := h.documents.Link(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, link)
}

func (h *ChecklistHandler) transition(c *gin.Context, fn checklistTransition) {
	view, err := fn(c.Request.Context(), actorFromContext(c), c.Param("id"), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}
