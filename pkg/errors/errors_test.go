package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	clone := Clone(ErrNotFound, "item not found")
	assert.Equal(t, "item not found", clone.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
	assert.True(t, errors.Is(clone, ErrNotFound))
	assert.False(t, errors.Is(clone, ErrForbidden))

	wrapped := fmt.Errorf("load item: %w", clone)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Nil(t, Clone(nil, "x"))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	cause := errors.New("connection reset")
	appErr := FromError(fmt.Errorf("upload: %w", Wrap(cause, "UPSTREAM", http.StatusBadGateway, "storage failed")))
	assert.Equal(t, "UPSTREAM", appErr.Code)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.ErrorIs(t, appErr, cause)
	assert.Equal(t, "storage failed: connection reset", appErr.Error())

	internal := FromError(cause)
	assert.Equal(t, ErrInternal.Code, internal.Code)
	assert.Equal(t, ErrInternal.Message, internal.Message)
}
