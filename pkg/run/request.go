// Package run implements the Run Controller (spec §4.7): owns the
// lifecycle of one pipeline run end to end — create the row, register a
// Cancellation Handle, resolve and build the Stage Graph, build the
// Context Snapshot, run the Scheduler, compute aggregates, write the
// terminal row, capture a dead-letter entry on failure.
package run

import (
	"github.com/go-playground/validator/v10"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

var validate = validator.New()

// Request is everything the Run Controller needs to start one run.
// RunID is optional: empty means allocate a fresh one; non-empty lets a
// caller retry a request idempotently (spec §4.7 "Idempotency").
type Request struct {
	RunID       string
	Service     string `validate:"required"`
	RequesterID string
	PrincipalID string `validate:"required"`
	TenantID    string `validate:"required"`

	Topology string `validate:"required"`
	Channel  string `validate:"required,oneof=chat voice"`

	InputText  string
	AudioBytes []byte
	Messages   []models.Message

	RequestID string
	SessionID string

	// Ports supplies this run's injected dependencies (DB handle, provider
	// gateway, LLM/STT/TTS clients, streaming send funcs). Built by the
	// caller's composition root, not by the Run Controller.
	Ports *stage.PortBundle
}

func (r Request) validateRequest() error {
	return validate.Struct(r)
}

func (r Request) snapshot(runID string) *models.ContextSnapshot {
	return &models.ContextSnapshot{
		RunID:      runID,
		RequestID:  r.RequestID,
		InputText:  r.InputText,
		AudioBytes: r.AudioBytes,
		Messages:   r.Messages,
		Topology:   r.Topology,
		Channel:    r.Channel,
		Principal:  models.Principal{PrincipalID: r.PrincipalID, TenantID: r.TenantID},
	}
}
