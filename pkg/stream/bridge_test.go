package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameWireShapeChatToken(t *testing.T) {
	wire := frameWireShape("chat-svc", Frame{Kind: FrameKindToken, RunID: "run-1", RequestID: "req-1", Text: "hel"})
	assert.Equal(t, "chat.token", wire["type"])
	assert.Equal(t, "hel", wire["token"])
	assert.Equal(t, "run-1", wire["pipelineRunId"])
	assert.Equal(t, "req-1", wire["requestId"])
}

func TestFrameWireShapeVoiceAudioChunk(t *testing.T) {
	wire := frameWireShape("voice-svc", Frame{Kind: FrameKindAudio, Audio: []byte("abc"), AudioFormat: "mp3", Sequence: 3, Terminal: true})
	assert.Equal(t, "voice.audio_chunk", wire["type"])
	assert.Equal(t, "mp3", wire["format"])
	assert.Equal(t, 3, wire["sequence"])
	assert.Equal(t, true, wire["final"])
	assert.NotEmpty(t, wire["data_base64"])
}

func TestFrameWireShapeChatTranscript(t *testing.T) {
	wire := frameWireShape("chat-svc", Frame{Kind: FrameKindTranscript, Transcript: "hello there", Confidence: 0.9, DurationMS: 120})
	assert.Equal(t, "chat.transcript", wire["type"])
	assert.Equal(t, "hello there", wire["transcript"])
	assert.Equal(t, 0.9, wire["confidence"])
	assert.Equal(t, int64(120), wire["duration_ms"])
}

func TestFrameWireShapeStatusUpdateCarriesService(t *testing.T) {
	wire := frameWireShape("chat-svc", Frame{Kind: FrameKindStatus, Status: "canceled", Data: map[string]any{"reason": "client_disconnect"}})
	assert.Equal(t, "status.update", wire["type"])
	assert.Equal(t, "chat-svc", wire["service"])
	assert.Equal(t, "canceled", wire["status"])
}

func TestFrameWireShapeCompleteDiffersByChannel(t *testing.T) {
	chat := frameWireShape("chat-svc", Frame{Kind: FrameKindComplete, Channel: "chat", Content: "final reply", RunID: "run-1", RequestID: "req-1"})
	assert.Equal(t, "chat.complete", chat["type"])
	assert.Equal(t, "final reply", chat["content"])

	voice := frameWireShape("voice-svc", Frame{Kind: FrameKindComplete, Channel: "voice", Content: "final reply"})
	assert.Equal(t, "voice.complete", voice["type"])
}

func TestFrameWireShapeError(t *testing.T) {
	wire := frameWireShape("chat-svc", Frame{Kind: FrameKindError, ErrorCode: "pipeline_failed", ErrorMessage: "boom", RequestID: "req-1"})
	assert.Equal(t, "error", wire["type"])
	assert.Equal(t, "pipeline_failed", wire["code"])
	assert.Equal(t, "boom", wire["message"])
	assert.Equal(t, "req-1", wire["requestId"])
}

func TestBridgePushAudioAssignsIncreasingSequence(t *testing.T) {
	b := NewBridge(nil)
	b.EnsureRun("run-1", "voice", "voice-svc", "req-1")
	b.PushAudio("run-1", "mp3", []byte("a"), false)
	b.PushAudio("run-1", "mp3", []byte("b"), true)

	rs := b.runOf("run-1")
	f1, ok := rs.audio.pop()
	require.True(t, ok)
	assert.Equal(t, 0, f1.Sequence)
	assert.False(t, f1.Terminal)

	f2, ok := rs.audio.pop()
	require.True(t, ok)
	assert.Equal(t, 1, f2.Sequence)
	assert.True(t, f2.Terminal)
}

func TestBridgeEnsureRunPopulatesMetadataBeforeAttach(t *testing.T) {
	b := NewBridge(nil)
	b.EnsureRun("run-1", "chat", "chat-svc", "req-1")
	b.PushToken("run-1", "hi", false)

	rs := b.runOf("run-1")
	f, ok := rs.token.pop()
	require.True(t, ok)
	assert.Equal(t, "chat", f.Channel)
	assert.Equal(t, "req-1", f.RequestID)
}

func TestBridgePushCompleteAndPushErrorAreTerminal(t *testing.T) {
	b := NewBridge(nil)
	b.EnsureRun("run-1", "chat", "chat-svc", "req-1")
	b.PushComplete("run-1", "final reply", map[string]any{"topology": "chat_fast"})

	rs := b.runOf("run-1")
	f, ok := rs.status.pop()
	require.True(t, ok)
	assert.Equal(t, FrameKindComplete, f.Kind)
	assert.True(t, f.Terminal)
	assert.Equal(t, "final reply", f.Content)
}
