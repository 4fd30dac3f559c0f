package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/middleware"
	"github.com/noah-isme/qc-validator-api/internal/models"
)

var (
	sellerClaims = &models.JWTClaims{UserID: "seller-1", Email: "seller@example.com", Role: models.RoleUser}
	buyerClaims  = &models.JWTClaims{UserID: "buyer-1", Email: "buyer@example.com", Role: models.RoleUser}
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asUser(c *gin.Context, claims *models.JWTClaims) {
	c.Set(middleware.ContextUserKey, claims)
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
	Error      *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
