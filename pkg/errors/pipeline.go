package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrFetch              ErrorCode = "fetch_error"
	ErrTranscription      ErrorCode = "transcription_error"
	ErrStructuring        ErrorCode = "structuring_error"
	ErrParse              ErrorCode = "parse_error"
	ErrPersistence        ErrorCode = "persistence_error"
	ErrNotification       ErrorCode = "notification_error"
	ErrTimeout            ErrorCode = "timeout"
	ErrContextCancelled   ErrorCode = "context_cancelled"
	ErrRateLimit          ErrorCode = "rate_limit"
	ErrServiceUnavailable ErrorCode = "service_unavailable"
	ErrProcessingError    ErrorCode = "processing_error"
)

// PipelineError is a structured error for pipeline failures.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Wrap attaches a code and stage to err. It returns nil for a nil err.
func Wrap(code ErrorCode, stage string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: err.Error(),
		Cause:   err,
	}
}

// New creates a PipelineError without an underlying cause.
func New(code ErrorCode, stage, message string) *PipelineError {
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: message,
	}
}

// CodeOf returns the code of the first PipelineError in err's chain,
// or ErrProcessingError when there is none.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrProcessingError
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// An error that already carries a PipelineError keeps its code. Otherwise the
// error is matched against known patterns and falls back to ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	if errors.Is(err, ErrNoRowsUpdated) {
		pe.Code = ErrPersistence
		pe.Message = err.Error()
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "quota exceeded") {
		pe.Code = ErrRateLimit
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "503") || strings.Contains(lower, "service unavailable") || strings.Contains(lower, "no such host") {
		pe.Code = ErrServiceUnavailable
		pe.Message = msg
		return pe
	}

	pe.Code = ErrProcessingError
	pe.Message = msg
	return pe
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
// This function checks the error code using the ErrorCodeRegistry.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return IsRetryable(pe.Code)
	}
	return false
}
