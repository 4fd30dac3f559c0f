package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailsKeepsSentinelIdentity(t *testing.T) {
	err := WithDetails(ErrScoreBelowThreshold, "cannot sign: score 82% is below required threshold 100%", map[string]interface{}{
		"score":     82,
		"threshold": 100,
	})

	require.True(t, stderrors.Is(err, ErrScoreBelowThreshold))
	assert.False(t, stderrors.Is(err, ErrNotEligible))
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)
	assert.Equal(t, 82, err.Details["score"])
	assert.Nil(t, ErrScoreBelowThreshold.Details, "sentinel must not be mutated")
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)

	wrapped := fmt.Errorf("ctx: %w", ErrAlreadyAccepted)
	assert.Equal(t, ErrAlreadyAccepted.Code, FromError(wrapped).Code)
	assert.Equal(t, "ALREADY_ACCEPTED", CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(nil))
}

func TestCloneCopiesDetails(t *testing.T) {
	base := WithDetails(ErrInvalidTransition, "", map[string]interface{}{"current_state": "completed"})
	clone := Clone(base, "other")
	clone.Details["current_state"] = "cancelled"

	assert.Equal(t, "completed", base.Details["current_state"])
	assert.Equal(t, "other", clone.Message)
}
