package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(Validation("empty content")))
	assert.Equal(t, CodeAccessDenied, CodeOf(AccessDenied("not a member")))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("room")))
	assert.Equal(t, CodeConflict, CodeOf(Conflict("already joined")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := AccessDenied("closed room")
	wrapped := fmt.Errorf("send: %w", inner)
	assert.Equal(t, CodeAccessDenied, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeAccessDenied))
	assert.False(t, IsCode(nil, CodeAccessDenied))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("publish failed", cause)

	assert.EqualError(t, err, "publish failed: connection refused")
	assert.ErrorIs(t, err, cause)
}
