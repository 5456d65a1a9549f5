// Package models holds the persisted and in-memory shapes written and read
// by the orchestration kernel: runs, events, provider call records,
// dead-letter entries, and the per-run context snapshot and stage outputs
// that never leave process memory.
package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is one of the three terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Run is the row written by the Run Controller for one end-to-end pipeline
// execution (spec §3 "Run"). Created once with status=created; mutated only
// by the Run Controller; never deleted.
type Run struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	RequesterID string    `json:"requester_id"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	Topology    string    `json:"topology"`
	Mode        string    `json:"mode"`
	QualityMode string    `json:"quality_mode"`
	Status      RunStatus `json:"status"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`

	// Timings, milliseconds.
	TotalLatencyMS     int64 `json:"total_latency_ms"`
	TimeToFirstTokenMS int64 `json:"time_to_first_token_ms"`
	TimeToFirstAudioMS int64 `json:"time_to_first_audio_ms"`
	TimeToFirstChunkMS int64 `json:"time_to_first_chunk_ms"`

	TokensIn    int64 `json:"tokens_in"`
	TokensOut   int64 `json:"tokens_out"`
	CostCents   int64 `json:"cost_cents"` // hundredths-of-cents, see pkg/provider pricing
	StagesJSON  json.RawMessage `json:"stages_summary,omitempty"`

	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StageSummary is one entry of Run.StagesJSON: a compact per-stage record
// used for the run row's summary map and for DLQ / admin display.
type StageSummary struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // ok, fail, skip
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}
