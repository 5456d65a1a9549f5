package models

import "time"

// DLQStatus is the resolution lifecycle of a dead-letter entry.
type DLQStatus string

const (
	DLQStatusPending       DLQStatus = "pending"
	DLQStatusInvestigating DLQStatus = "investigating"
	DLQStatusResolved      DLQStatus = "resolved"
	DLQStatusReprocessed   DLQStatus = "reprocessed"
)

// DeadLetterEntry captures everything needed to diagnose or replay a failed
// run (spec §3 "Dead-Letter Entry", §4.11).
type DeadLetterEntry struct {
	ID                string    `json:"id"`
	RunID             string    `json:"run_id"`
	Service           string    `json:"service"`
	ErrorType         string    `json:"error_type"`
	ErrorMessage      string    `json:"error_message"`
	FailedStage       string    `json:"failed_stage,omitempty"`
	ContextSnapshot   []byte    `json:"-"` // msgpack-encoded, see pkg/dlq
	InputData         []byte    `json:"-"` // msgpack-encoded replayable input
	Status            DLQStatus `json:"status"`
	RetryCount        int       `json:"retry_count"`
	CreatedAt         time.Time `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        string    `json:"resolved_by,omitempty"`
	ResolutionNotes   string    `json:"resolution_notes,omitempty"`
	LastRetryAt       *time.Time `json:"last_retry_at,omitempty"`
}

// DLQStatsByDimension is a single rollup row: count of entries grouped by
// one dimension's value (status, error class, or service).
type DLQStatsByDimension struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}
