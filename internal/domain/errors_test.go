package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrCodeExtractionFailed, "no text found")
	assert.Equal(t, "[EXTRACTION_FAILED] no text found", err.Error())

	wrapped := NewDomainErrorWithCause(ErrCodeExtractionFailed, "no text found", errors.New("tls handshake"))
	assert.Equal(t, "[EXTRACTION_FAILED] no text found: tls handshake", wrapped.Error())
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewDomainErrorWithCause(ErrCodeTransient, "upstream failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"domain error", NewDomainError(ErrCodePermanent, "bad request"), ErrCodePermanent},
		{"wrapped domain error", fmt.Errorf("stage: %w", ErrItemNotFound), ErrCodeNotFound},
		{"rate limit error", NewRateLimitError(time.Second, errors.New("429")), ErrCodeRateLimited},
		{"unclassified error treated as transient", errors.New("connection reset"), ErrCodeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorCode(tt.err))
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := NewRateLimitError(30*time.Second, errors.New("429"))
		hint, ok := RetryAfterHint(err)
		assert.True(t, ok)
		assert.Equal(t, 30*time.Second, hint)
	})

	t.Run("wrapped hint", func(t *testing.T) {
		err := fmt.Errorf("embed: %w", NewRateLimitError(5*time.Second, errors.New("429")))
		hint, ok := RetryAfterHint(err)
		assert.True(t, ok)
		assert.Equal(t, 5*time.Second, hint)
	})

	t.Run("rate limited without hint", func(t *testing.T) {
		_, ok := RetryAfterHint(NewRateLimitError(0, errors.New("429")))
		assert.False(t, ok)
	})

	t.Run("other errors", func(t *testing.T) {
		_, ok := RetryAfterHint(errors.New("nope"))
		assert.False(t, ok)
	})
}
