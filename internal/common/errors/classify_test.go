package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		code     Code
	}{
		{"deadline exceeded", context.DeadlineExceeded, CategoryNetwork, CodeTimeout},
		{"timeout text", errors.New("request timed out"), CategoryNetwork, CodeTimeout},
		{"rate limit", errors.New("429 Too Many Requests"), CategoryLLM, CodeRateLimited},
		{"invalid api key", errors.New("authentication failed: invalid x-api-key"), CategoryLLM, CodeInvalidAPIKey},
		{"context too long", errors.New("prompt is too long: 250000 tokens"), CategoryLLM, CodeContextTooLong},
		{"overloaded", errors.New("529 overloaded_error"), CategoryLLM, CodeOverloaded},
		{"connection refused", errors.New("dial tcp: connection refused"), CategoryNetwork, CodeConnectionFailed},
		{"unexpected eof", errors.New("unexpected EOF"), CategoryNetwork, CodeConnectionFailed},
		{"tool failure", errors.New("tool execution aborted"), CategoryDriver, CodeToolExecutionFailed},
		{"anything else", errors.New("weird provider hiccup"), CategoryDriver, CodeReceiveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.code, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	original := New(CategoryValidation, CodeSchemaViolation, "bad payload")
	got := Classify(fmt.Errorf("outer: %w", original))
	assert.Same(t, original, got)
}
