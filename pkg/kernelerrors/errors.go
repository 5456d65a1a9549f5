// Package kernelerrors holds the kernel's error taxonomy (spec §7):
// not-found, validation, authorization, provider, policy, and pipeline
// errors, each with a stable classification used for DLQ error_type and
// for mapping to client-facing error codes.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Sentinel base errors. Wrap with fmt.Errorf("...: %w", ErrX) to add detail
// while keeping errors.Is classification working.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("authorization failed")
	ErrProvider      = errors.New("provider error")
	ErrPolicy        = errors.New("policy blocked")
	ErrPipeline      = errors.New("pipeline error")
)

// ValidationError wraps a field-specific validation failure, mirroring the
// teacher's pkg/services/errors.go shape.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError constructs a *ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderError carries the operation/provider/model that failed along with
// whether the failure is retryable and, for rate-limit errors, a
// RetryAfter hint (spec §7.4).
type ProviderError struct {
	Operation  string
	Provider   string
	Model      string
	Retryable  bool
	RetryAfterMS int64
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s/%s/%s: %v", e.Operation, e.Provider, e.Model, e.Cause)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// PipelineError classifies the three pipeline-level failure modes named in
// spec §7.6: stage failure, timeout, or cancellation. Only Kind=="failed"
// enters the DLQ (spec §4.11 "only failed enters the DLQ").
type PipelineError struct {
	Kind       string // "failed", "timeout", "canceled"
	StageName  string
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.StageName != "" {
		return fmt.Sprintf("pipeline %s at stage %q: %v", e.Kind, e.StageName, e.Cause)
	}
	return fmt.Sprintf("pipeline %s: %v", e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() error { return ErrPipeline }
