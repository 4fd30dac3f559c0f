package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

type disputeServiceMock struct {
	actor       models.Actor
	id          string
	query       dto.DisputeQuery
	resolve     dto.ResolveDisputeRequest
	msgQuery    dto.MessageQuery
	arbitration bool
	err         error
}

func (m *disputeServiceMock) view(id string) (*workflow.DisputeView, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &workflow.DisputeView{Dispute: models.Dispute{ID: id, Status: models.DisputeInitiated}, Actions: []workflow.Action{}}, nil
}

func (m *disputeServiceMock) File(ctx context.Context, actor models.Actor, checklistID string, req dto.FileDisputeRequest, meta service.RequestMeta) (*workflow.DisputeView, error) {
	m.actor, m.id = actor, checklistID
	return m.view("d-1")
}

func (m *disputeServiceMock) Get(ctx context.Context, actor models.Actor, id string) (*workflow.DisputeView, error) {
	m.actor, m.id = actor, id
	return m.view(id)
}

func (m *disputeServiceMock) List(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error) {
	m.actor, m.query = actor, query
	return []workflow.DisputeView{}, &models.Pagination{Page: 1, PageSize: 20}, m.err
}

func (m *disputeServiceMock) ListForArbitration(ctx context.Context, actor models.Actor, query dto.DisputeQuery) ([]workflow.DisputeView, *models.Pagination, error) {
	m.arbitration = true
	return m.List(ctx, actor, query)
}

func (m *disputeServiceMock) SubmitOffer(ctx context.Context, actor models.Actor, id string, req dto.SubmitOfferRequest, meta service.RequestMeta) (*workflow.DisputeView, error) {
	m.actor, m.id = actor, id
	return m.view(id)
}

func (m *disputeServiceMock) Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveDisputeRequest, meta service.RequestMeta) (*workflow.DisputeView, error) {
	m.actor, m.id, m.resolve = actor, id, req
	return m.view(id)
}

func (m *disputeServiceMock) PostMessage(ctx context.Context, actor models.Actor, id string, req dto.PostMessageRequest) (*models.DisputeMessage, error) {
	m.actor, m.id = actor, id
	if m.err != nil {
		return nil, m.err
	}
	return &models.DisputeMessage{DisputeID: id, AuthorID: actor.ID, Body: req.Body, Seq: 1}, nil
}

func (m *disputeServiceMock) ListMessages(ctx context.Context, actor models.Actor, id string, query dto.MessageQuery) ([]models.DisputeMessage, error) {
	m.actor, m.id, m.msgQuery = actor, id, query
	return []models.DisputeMessage{}, m.err
}

func TestDisputeHandlerFileUsesChecklistParam(t *testing.T) {
	mock := &disputeServiceMock{}
	h := NewDisputeHandler(mock)

	payload, _ := json.Marshal(dto.FileDisputeRequest{Reason: "Brakes squeal"})
	c, w := newGinContext(http.MethodPost, "/checklists/chk-1/disputes", payload)
	c.Params = gin.Params{{Key: "id", Value: "chk-1"}}
	asUser(c, buyerClaims)

	h.File(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "chk-1", mock.id)
	assert.Equal(t, buyerClaims.UserID, mock.actor.ID)

	mock.err = appErrors.ErrDisputeAlreadyOpen
	c, w = newGinContext(http.MethodPost, "/checklists/chk-1/disputes", payload)
	c.Params = gin.Params{{Key: "id", Value: "chk-1"}}
	asUser(c, buyerClaims)
	h.File(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DISPUTE_ALREADY_OPEN", decodeEnvelope(t, w).Error.Code)
}

func TestDisputeHandlerResolvePassesDecision(t *testing.T) {
	mock := &disputeServiceMock{}
	h := NewDisputeHandler(mock)

	c, w := newGinContext(http.MethodPost, "/disputes/d-1/resolve", []byte(`{"accepted":false}`))
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}
	asUser(c, buyerClaims)

	h.Resolve(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.resolve.Accepted)
	assert.False(t, *mock.resolve.Accepted)
}

func TestDisputeHandlerListsAndArbitration(t *testing.T) {
	mock := &disputeServiceMock{}
	h := NewDisputeHandler(mock)

	c, w := newGinContext(http.MethodGet, "/disputes?status=INITIATED&status=ESCALATED", nil)
	asUser(c, sellerClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.DisputeStatus{models.DisputeInitiated, models.DisputeEscalated}, mock.query.Status)
	assert.False(t, mock.arbitration)

	c, w = newGinContext(http.MethodGet, "/admin/disputes", nil)
	asUser(c, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Arbitration(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.arbitration)
	assert.Equal(t, "[]", string(decodeEnvelope(t, w).Data))
}

func TestDisputeHandlerMessages(t *testing.T) {
	mock := &disputeServiceMock{}
	h := NewDisputeHandler(mock)

	c, w := newGinContext(http.MethodPost, "/disputes/d-1/messages", []byte(`{"body":"Photos attached"}`))
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}
	asUser(c, buyerClaims)
	h.PostMessage(c)
	require.Equal(t, http.StatusCreated, w.Code)
	var message models.DisputeMessage
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &message))
	assert.Equal(t, "Photos attached", message.Body)

	c, w = newGinContext(http.MethodGet, "/disputes/d-1/messages?after=4&limit=10", nil)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}
	asUser(c, sellerClaims)
	h.Messages(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.MessageQuery{After: 4, Limit: 10}, mock.msgQuery)

	c, w = newGinContext(http.MethodGet, "/disputes/d-1/messages?after=abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}
	asUser(c, sellerClaims)
	h.Messages(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
