package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

func TestErrorWritesGuardDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, fmt.Errorf("sign: %w", appErrors.WithDetails(appErrors.ErrScoreBelowThreshold,
		"cannot sign: score 82% is below required threshold 100%",
		map[string]interface{}{"guard": "qc_pass", "score": 82, "threshold": 100})))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SCORE_BELOW_THRESHOLD", body.Error.Code)
	assert.Equal(t, "qc_pass", body.Error.Details["guard"])
	assert.EqualValues(t, 82, body.Error.Details["score"])
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestJSONOmitsEmptyMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	JSON(c, http.StatusOK, map[string]string{"id": "x"}, nil, map[string]interface{}{})

	assert.JSONEq(t, `{"data":{"id":"x"}}`, w.Body.String())
}

func TestErrorAttachesServerFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, fmt.Errorf("query checklists: connection reset"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, c.Errors, 1)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestAttachmentQuotesFilename(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Attachment(c, "inspection chk-1.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="inspection chk-1.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}
