package models

import (
	"encoding/json"
	"time"
)

// Event is one row of the run-scoped, append-only event log (spec §3
// "Event"). Ordered by monotonically non-decreasing Timestamp within one
// run id.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"` // dotted namespace, e.g. "stage.started"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`

	RequestID   string `json:"request_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// Well-known event type names used across the kernel. Stages and domain
// packages may emit additional dotted names freely; these are the ones the
// kernel itself interprets or the spec's testable properties name directly.
const (
	EventPipelineCreated        = "pipeline.created"
	EventPipelineStarted        = "pipeline.started"
	EventPipelineCompleted      = "pipeline.completed"
	EventPipelineFailed         = "pipeline.failed"
	EventPipelineCanceled       = "pipeline.canceled"
	EventPipelineCancelRequest  = "pipeline.cancel_requested"
	EventStageStarted           = "stage.started"
	EventStageCompleted         = "stage.completed"
	EventStageFailed            = "stage.failed"
	EventPolicyDecision         = "policy.decision"
	EventPolicyBlocked          = "policy.blocked"
	EventPolicyEscalationDenied = "policy.escalation.denied"
	EventProviderCallSucceeded  = "provider.call.succeeded"
	EventProviderCallFailed     = "provider.call.failed"
	EventCircuitOpened          = "circuit.opened"
	EventCircuitClosed          = "circuit.closed"
	EventCircuitHalfOpen        = "circuit.half_open"
	EventCircuitOpenCallAllowed = "circuit.open.call_allowed"
	EventStreamDropped          = "stream.dropped"
	EventAgentOutputRejected    = "agent_output.artifacts.rejected"
)

// ClientFrameAllowlist is the set of event types forwarded from the Event
// Sink to the Streaming Bridge's status channel (spec §4.1 "secondary
// responsibility is fan-out to the client transport"). Token and audio
// frames bypass the event log entirely — they are written straight to the
// Streaming Bridge by stages via injected callbacks — so this allowlist
// only covers status-shaped events.
var ClientFrameAllowlist = map[string]bool{
	"status.update":     true,
	EventPipelineCreated: true,
	EventPipelineCanceled: true,
	EventPipelineFailed:   true,
}
