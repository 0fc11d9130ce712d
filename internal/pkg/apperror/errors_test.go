package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("load session: %w", NotFound("session %s not found", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "load session: session abc not found", err.Error())
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"network", Network(context.DeadlineExceeded, "store write timed out"), true},
		{"plain error", errors.New("boom"), true},
		{"not found", NotFound("missing"), false},
		{"unauthorized", Unauthorized("not owner"), false},
		{"validation", Validation("bad payload"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestNetworkUnwrap(t *testing.T) {
	err := Network(context.DeadlineExceeded, "flush")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrNetwork))
}
