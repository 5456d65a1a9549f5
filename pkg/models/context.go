package models

import "time"

// Message is one turn of accumulated conversation history carried in the
// Context Snapshot.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Principal identifies the resolved caller and tenant for a run. The kernel
// receives this already resolved — authentication itself is out of scope
// (spec §1).
type Principal struct {
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id"`
}

// ContextSnapshot is the immutable per-run bundle built once by the Run
// Controller at start and read by every stage (spec §3 "Context Snapshot").
// Nothing may mutate it after construction; stages that need to carry
// derived state forward do so via Stage Output, not by writing back here.
type ContextSnapshot struct {
	RunID     string `json:"run_id"`
	RequestID string `json:"request_id"`

	InputText  string `json:"input_text,omitempty"`
	AudioBytes []byte `json:"-"`

	Messages []Message `json:"messages,omitempty"`

	Topology string `json:"topology"`
	Channel  string `json:"channel"` // "chat" | "voice"
	Behavior string `json:"behavior,omitempty"`

	Principal Principal `json:"principal"`

	// Enrichment blocks, populated by ENRICH-kind stages before being read
	// by later stages — the snapshot itself is built with these empty and
	// the enrichment stages' outputs are what downstream stages actually
	// read; these fields exist for the handful of enrichers that run before
	// the graph would otherwise have a dependency edge to hang the data on
	// (e.g. a profile fetched once up front for every topology).
	Profile map[string]any `json:"profile,omitempty"`
	Memory  map[string]any `json:"memory,omitempty"`
	Skills  map[string]any `json:"skills,omitempty"`

	AssessmentState map[string]any `json:"assessment_state,omitempty"`
}

// StageStatus is the outcome of one stage invocation (spec §6 "Output").
type StageStatus string

const (
	StageOK   StageStatus = "ok"
	StageFail StageStatus = "fail"
	StageSkip StageStatus = "skip"
)

// StageOutput is the transient, in-memory result of one stage invocation
// (spec §3 "Stage Output"). Never persisted as a row; its event list is
// flushed to the Event Sink on stage completion and its Results map is
// read by downstream stages via the Stage Inputs view.
type StageOutput struct {
	Status  StageStatus    `json:"status"`
	Results map[string]any `json:"results,omitempty"`
	Error   error          `json:"-"`
	Reason  string         `json:"reason,omitempty"` // e.g. "canceled", "deadline_exceeded"
	Degraded bool          `json:"degraded,omitempty"`
}

// OK builds a successful Stage Output.
func OK(results map[string]any) StageOutput {
	if results == nil {
		results = map[string]any{}
	}
	return StageOutput{Status: StageOK, Results: results}
}

// Fail builds a failed Stage Output.
func Fail(err error) StageOutput {
	return StageOutput{Status: StageFail, Error: err, Reason: err.Error()}
}

// Skip builds a skipped Stage Output with the given reason.
func Skip(reason string) StageOutput {
	return StageOutput{Status: StageSkip, Reason: reason, Results: map[string]any{}}
}
