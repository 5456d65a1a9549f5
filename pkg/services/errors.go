package services

import "github.com/pipelinekit/orchestrator/pkg/kernelerrors"

// Re-exported for call sites that only import pkg/services; kept as a thin
// alias rather than a second error type so errors.Is/As behave identically
// regardless of which package a caller imported them through.
var (
	ErrNotFound         = kernelerrors.ErrNotFound
	NewValidationError  = kernelerrors.NewValidationError
	IsValidationError   = kernelerrors.IsValidationError
)
