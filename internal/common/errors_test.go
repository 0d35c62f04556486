package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsError(t *testing.T) {
	base := Validation("sessionId is required")
	wrapped := fmt.Errorf("parse: %w", base)

	got := AsError(wrapped)
	assert.Equal(t, CodeValidation, got.Code)
	assert.Equal(t, "sessionId is required", got.Message)

	other := AsError(errors.New("boom"))
	assert.Equal(t, CodeInternal, other.Code)
	assert.Equal(t, "internal error", other.Message)
}

func TestNewULID_Sortable(t *testing.T) {
	a, err := NewULID()
	assert.NoError(t, err)
	b, err := NewULID()
	assert.NoError(t, err)
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
