package domain

import (
	"errors"
	"fmt"
	"time"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Pipeline error codes
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeInvalidConfiguration  = "INVALID_CONFIGURATION"
	ErrCodeExtractionFailed      = "EXTRACTION_FAILED"
	ErrCodeUnsupportedSourceKind = "UNSUPPORTED_SOURCE_KIND"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeTransient             = "TRANSIENT_ERROR"
	ErrCodePermanent             = "PERMANENT_ERROR"
	ErrCodeRetriesExhausted      = "RETRIES_EXHAUSTED"
	ErrCodePersistenceFailed     = "PERSISTENCE_FAILED"
	ErrCodeNotFound              = "NOT_FOUND"
)

// Validation errors
var (
	ErrInvalidItemKind      = NewDomainError(ErrCodeInvalidInput, "invalid item kind")
	ErrInvalidItemStatus    = NewDomainError(ErrCodeInvalidInput, "invalid item status")
	ErrInvalidKeywordStatus = NewDomainError(ErrCodeInvalidInput, "invalid keyword status")
	ErrInvalidJobStatus     = NewDomainError(ErrCodeInvalidInput, "invalid job status")
	ErrEmptyText            = NewDomainError(ErrCodeInvalidInput, "text cannot be empty")
	ErrInvalidChunkParams   = NewDomainError(ErrCodeInvalidInput, "chunk overlap must be non-negative and smaller than chunk size")
	ErrMissingRequiredField = NewDomainError(ErrCodeInvalidInput, "missing required field")
)

// Not found errors
var (
	ErrItemNotFound = NewDomainError(ErrCodeNotFound, "knowledge base item not found")
	ErrJobNotFound  = NewDomainError(ErrCodeNotFound, "job not found")
)

// Configuration errors
var (
	ErrNoFeedSources = NewDomainError(ErrCodeInvalidConfiguration, "feed item has no source URLs configured")
)

// Source errors
var (
	ErrFileKindUnsupported = NewDomainError(ErrCodeUnsupportedSourceKind, "file sources are not supported by the ingestion pipeline")
)

// RateLimitError is returned when an external service responds with 429.
// RetryAfter is zero when the service did not supply a retry-after duration.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("[%s] rate limited, retry after %s: %v", ErrCodeRateLimited, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("[%s] rate limited: %v", ErrCodeRateLimited, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError creates a RateLimitError with an optional retry-after hint.
func NewRateLimitError(retryAfter time.Duration, err error) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfter, Err: err}
}

// ErrorCode extracts the pipeline error code from an error chain.
// Unclassified errors report ErrCodeTransient so callers retry them.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return ErrCodeRateLimited
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeTransient
}

// RetryAfterHint returns the retry-after duration carried by a rate limit
// error, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}
