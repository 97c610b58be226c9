package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsAndStatus(t *testing.T) {
	detailed := WithDetails(ErrNotFound, "alert 42")
	wrapped := fmt.Errorf("acknowledge: %w", detailed)

	assert.True(t, stderrors.Is(wrapped, ErrNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrConflict))
	assert.True(t, IsAppError(wrapped))
	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(stderrors.New("boom")))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := stderrors.New("threshold must be finite")
	err := Wrap(ErrBadRequest, cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, ErrBadRequest))
	assert.Equal(t, "threshold must be finite", err.Details)
}
