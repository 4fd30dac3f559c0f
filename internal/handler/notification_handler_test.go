package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

type inboxMock struct {
	actor models.Actor
	query dto.NotificationQuery
	items map[string]models.Notification
}

func (m *inboxMock) List(ctx context.Context, actor models.Actor, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	m.actor, m.query = actor, query
	out := []models.Notification{}
	for _, n := range m.items {
		if n.UserID == actor.ID {
			out = append(out, n)
		}
	}
	return out, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(out)}, nil
}

func (m *inboxMock) MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error) {
	n, ok := m.items[id]
	if !ok || n.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n.ReadAt = &now
	m.items[id] = n
	return &n, nil
}

func TestNotificationHandlerInbox(t *testing.T) {
	mock := &inboxMock{items: map[string]models.Notification{
		"n-1": {ID: "n-1", UserID: buyerClaims.UserID, Type: models.NotificationSellerSigned},
	}}
	h := NewNotificationHandler(mock)

	c, w := newGinContext(http.MethodGet, "/notifications?unread=true", nil)
	asUser(c, buyerClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.query.Unread)
	assert.Equal(t, 1, decodeEnvelope(t, w).Pagination.TotalCount)

	c, w = newGinContext(http.MethodPost, "/notifications/n-1/read", nil)
	c.Params = gin.Params{{Key: "id", Value: "n-1"}}
	asUser(c, sellerClaims)
	h.MarkRead(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	c, w = newGinContext(http.MethodPost, "/notifications/n-1/read", nil)
	c.Params = gin.Params{{Key: "id", Value: "n-1"}}
	asUser(c, buyerClaims)
	h.MarkRead(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"read_at"`)
}
