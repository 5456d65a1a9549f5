// Package dlq implements the Dead-Letter Queue's admin surface on top of
// services.DLQService (spec §4.11): list/resolve/mark-reprocessed,
// statistics rollups, and the binary codec used to capture and later
// replay a failed run's context snapshot and input data.
package dlq

import (
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

// ReplayInput is the replayable subset of a run's original request —
// everything the Run Controller needs to start the same run again,
// stripped of transient internals (ambient identifiers are re-derived by
// the reprocess caller, not carried here).
type ReplayInput struct {
	Topology   string           `msgpack:"topology"`
	Mode       string           `msgpack:"mode"`
	Channel    string           `msgpack:"channel"`
	InputText  string           `msgpack:"input_text,omitempty"`
	AudioBytes []byte           `msgpack:"audio_bytes,omitempty"`
	Messages   []models.Message `msgpack:"messages,omitempty"`
}

// EncodeSnapshot msgpack-encodes a Context Snapshot for storage in a
// dead-letter entry's context_snapshot column.
func EncodeSnapshot(snapshot *models.ContextSnapshot) ([]byte, error) {
	b, err := msgpack.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("dlq: encode context snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (*models.ContextSnapshot, error) {
	var snapshot models.ContextSnapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("dlq: decode context snapshot: %w", err)
	}
	return &snapshot, nil
}

// EncodeInput msgpack-encodes a ReplayInput for storage in a dead-letter
// entry's input_data column.
func EncodeInput(input ReplayInput) ([]byte, error) {
	b, err := msgpack.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("dlq: encode replay input: %w", err)
	}
	return b, nil
}

// DecodeInput reverses EncodeInput.
func DecodeInput(data []byte) (ReplayInput, error) {
	var input ReplayInput
	if err := msgpack.Unmarshal(data, &input); err != nil {
		return ReplayInput{}, fmt.Errorf("dlq: decode replay input: %w", err)
	}
	return input, nil
}
