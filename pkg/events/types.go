// Package events implements the Event Sink (spec §4.1): the single path
// by which every kernel component reports what happened during a run.
// Events are appended to the durable pipeline_events log and, for the
// kinds on the client allowlist, fanned out over PostgreSQL NOTIFY/LISTEN
// so a Streaming Bridge connection on any process can forward them to the
// client that's actually attached to that run.
package events

// RunChannel returns the pg_notify channel name for a run's events.
// Format: "run:{run_id}".
func RunChannel(runID string) string {
	return "run:" + runID
}

// GlobalControlChannel carries cross-process control signals that are not
// scoped to a single run's client-visible event stream — currently just
// cancellation requests, consumed by every process's Cancellation
// Registry (pkg/cancel) rather than by a WebSocket client.
const GlobalControlChannel = "kernel:control"

// ClientMessage is the JSON structure for client → server WebSocket
// messages on the Streaming Bridge control channel.
type ClientMessage struct {
	Action      string `json:"action"` // "catchup" or "ping"
	RunID       string `json:"run_id,omitempty"`
	LastEventID *int64 `json:"last_event_id,omitempty"`
}
