package dlq

import (
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSnapshotRoundTrips(t *testing.T) {
	snapshot := &models.ContextSnapshot{
		RunID:     "run-1",
		RequestID: "req-1",
		InputText: "hello there",
		Topology:  "chat_fast",
		Channel:   "chat",
		Principal: models.Principal{PrincipalID: "p1", TenantID: "t1"},
		Messages: []models.Message{
			{Role: "user", Content: "hi"},
		},
	}

	encoded, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeSnapshot(encoded)
	require.NoError(t, err)
	assert.Equal(t, snapshot.RunID, decoded.RunID)
	assert.Equal(t, snapshot.InputText, decoded.InputText)
	assert.Equal(t, snapshot.Topology, decoded.Topology)
	require.Len(t, decoded.Messages, 1)
	assert.Equal(t, "hi", decoded.Messages[0].Content)
}

func TestEncodeDecodeInputRoundTrips(t *testing.T) {
	input := ReplayInput{
		Topology:   "voice_fast",
		Mode:       "fast",
		Channel:    "voice",
		AudioBytes: []byte{1, 2, 3, 4},
	}

	encoded, err := EncodeInput(input)
	require.NoError(t, err)

	decoded, err := DecodeInput(encoded)
	require.NoError(t, err)
	assert.Equal(t, input.Topology, decoded.Topology)
	assert.Equal(t, input.AudioBytes, decoded.AudioBytes)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	// 0x8f is a fixmap header claiming 15 key/value pairs follow; with no
	// further bytes the decoder must fail rather than return a zero value.
	_, err := DecodeSnapshot([]byte{0x8f})
	assert.Error(t, err)
}
