package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

type notificationInbox interface {
	List(ctx context.Context, actor models.Actor, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error)
	MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error)
}

// NotificationHandler exposes the in-app inbox.
type NotificationHandler struct {
	inbox notificationInbox
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(inbox notificationInbox) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	var query dto.NotificationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid notification query"))
		return
	}
	items, pagination, err := h.inbox.List(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	item, err := h.inbox.MarkRead(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, item)
}
