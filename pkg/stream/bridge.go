package stream

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
)

// defaultQueueCapacity bounds each run's token/audio ring buffers. Sized
// for a few seconds of burst at typical LLM/TTS chunking rates without
// growing unbounded if a client stalls its read.
const defaultQueueCapacity = 512

// Bridge is the per-process Streaming Bridge: it owns one ringBuffer per
// (run, frame kind) and drains each into the run's attached WebSocket
// connection. Token and audio frames never touch the Event Sink or the
// database — they are pushed here directly by stage implementations (and,
// for the terminal frame, the Run Controller) via an injected callback,
// and delivered only to a connection attached to this same process (spec
// §4.8 — ephemeral, lost on disconnect).
type Bridge struct {
	manager *Manager

	mu   sync.Mutex
	runs map[string]*runStreams
}

// runStreams holds one run's three delivery lanes plus the metadata
// (channel, service, request id) needed to shape every frame into the
// named wire contract spec §6 promises, regardless of which lane it
// travels on. Transcript, complete, and error frames — each pushed at
// most a handful of times per run — ride the status lane rather than
// earning a dedicated ring buffer.
type runStreams struct {
	token  *ringBuffer
	audio  *ringBuffer
	status *ringBuffer
	conn   *Connection
	done   chan struct{}

	channel   string
	service   string
	requestID string

	seqMu    sync.Mutex
	audioSeq int
}

func newRunStreams() *runStreams {
	return &runStreams{
		token:  newRingBuffer(defaultQueueCapacity),
		audio:  newRingBuffer(defaultQueueCapacity),
		status: newRingBuffer(defaultQueueCapacity),
		done:   make(chan struct{}),
	}
}

// NewBridge creates a Bridge backed by the given Manager for WS delivery.
func NewBridge(manager *Manager) *Bridge {
	return &Bridge{manager: manager, runs: make(map[string]*runStreams)}
}

// EnsureRun records a run's channel/service/request-id metadata so every
// later Push* call can shape its frame correctly even if it happens
// before a client ever attaches. The composition root calls this once,
// right after the Run Controller allocates the run id.
func (b *Bridge) EnsureRun(runID, channel, service, requestID string) {
	rs := b.runOf(runID)
	b.mu.Lock()
	rs.channel, rs.service, rs.requestID = channel, service, requestID
	b.mu.Unlock()
}

// Attach binds a run's queues to a live connection and starts the
// goroutines that drain token/audio/status frames into it. Call once
// HandleConnection has completed its handshake for a run.
func (b *Bridge) Attach(conn *Connection, runID string) {
	rs := b.runOf(runID)
	b.mu.Lock()
	rs.conn = conn
	b.mu.Unlock()

	go b.drain(runID, rs)
}

// Detach stops delivery for a run and releases its queues. Called when
// the Run Controller reaches a terminal state or the attached
// connection disconnects, whichever comes first.
func (b *Bridge) Detach(runID string) {
	b.mu.Lock()
	rs, ok := b.runs[runID]
	delete(b.runs, runID)
	b.mu.Unlock()
	if !ok {
		return
	}
	rs.token.close()
	rs.audio.close()
	rs.status.close()
	close(rs.done)
}

// PushToken enqueues a text token frame for a run. A frame pushed before
// any connection attaches stays in the run's token ring buffer (oldest
// dropped first once it is full) until Attach starts draining it.
func (b *Bridge) PushToken(runID, text string, terminal bool) {
	rs := b.runOf(runID)
	rs.token.push(Frame{Kind: FrameKindToken, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, Text: text, Terminal: terminal})
}

// PushAudio enqueues an audio chunk frame for a run, stamping it with
// the next sequence number for that run (spec §6's voice.audio_chunk
// {sequence}).
func (b *Bridge) PushAudio(runID, format string, chunk []byte, terminal bool) {
	rs := b.runOf(runID)
	rs.seqMu.Lock()
	seq := rs.audioSeq
	rs.audioSeq++
	rs.seqMu.Unlock()
	rs.audio.push(Frame{Kind: FrameKindAudio, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, Audio: chunk, AudioFormat: format, Sequence: seq, Terminal: terminal})
}

// PushTranscript enqueues a chat.transcript frame — the STT stage's
// recognized text reaching the client alongside its confidence and the
// time the recognition took.
func (b *Bridge) PushTranscript(runID, transcript string, confidence float64, durationMS int64) {
	rs := b.runOf(runID)
	rs.status.push(Frame{Kind: FrameKindTranscript, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, Transcript: transcript, Confidence: confidence, DurationMS: durationMS})
}

// PushStatus enqueues a status.update frame for a run — used for the
// subset of allowlisted events that should also reach the client
// directly rather than only via the Event Sink's NOTIFY fan-out (see
// models.ClientFrameAllowlist).
func (b *Bridge) PushStatus(runID, status string, metadata any, terminal bool) {
	rs := b.runOf(runID)
	rs.status.push(Frame{Kind: FrameKindStatus, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, Status: status, Data: metadata, Terminal: terminal})
}

// PushComplete enqueues the single terminal chat.complete / voice.complete
// frame for a run (spec §4.7 step 9). Owned by the Run Controller, not by
// any stage: it fires exactly once, only after the whole pipeline has
// completed successfully.
func (b *Bridge) PushComplete(runID, content string, metadata any) {
	rs := b.runOf(runID)
	rs.status.push(Frame{Kind: FrameKindComplete, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, Content: content, Metadata: metadata, Terminal: true})
}

// PushError enqueues the terminal error frame for a run that failed
// (spec §7 "the terminal frame for a failed run is error with a stable
// error code").
func (b *Bridge) PushError(runID, code, message string) {
	rs := b.runOf(runID)
	rs.status.push(Frame{Kind: FrameKindError, RunID: runID, Channel: rs.channel, RequestID: rs.requestID, ErrorCode: code, ErrorMessage: message, Terminal: true})
}

// runOf returns the run's queue bundle, creating it (with zero-value
// metadata, populated later by EnsureRun) if this is the first
// push or attach the Bridge has seen for runID.
func (b *Bridge) runOf(runID string) *runStreams {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.runs[runID]
	if !ok {
		rs = newRunStreams()
		b.runs[runID] = rs
	}
	return rs
}

// drain services one run's three queues until Detach closes them,
// writing each dequeued frame to whatever connection is currently
// attached (Attach may be called again after a reconnect, replacing
// rs.conn without restarting drain).
func (b *Bridge) drain(runID string, rs *runStreams) {
	var wg sync.WaitGroup
	wg.Add(3)
	go b.drainQueue(&wg, runID, rs, rs.token)
	go b.drainQueue(&wg, runID, rs, rs.audio)
	go b.drainQueue(&wg, runID, rs, rs.status)
	wg.Wait()
}

func (b *Bridge) drainQueue(wg *sync.WaitGroup, runID string, rs *runStreams, q *ringBuffer) {
	defer wg.Done()
	for {
		f, ok := q.pop()
		if !ok {
			return
		}
		b.mu.Lock()
		conn := rs.conn
		b.mu.Unlock()
		if conn == nil {
			continue
		}
		if err := b.writeFrame(conn, rs, f); err != nil {
			slog.Warn("stream frame write failed", "run_id", runID, "kind", f.Kind, "error", err)
		}
	}
}

// frameWireShape translates a Frame into the named wire shape spec §6
// promises for its kind, channel-aware where the contract names a
// channel-specific type (chat.token/voice.audio_chunk,
// chat.complete/voice.complete). service comes from the run's metadata
// rather than the Frame itself since only status.update names it.
func frameWireShape(service string, f Frame) map[string]any {
	switch f.Kind {
	case FrameKindToken:
		return map[string]any{
			"type":          "chat.token",
			"token":         f.Text,
			"pipelineRunId": f.RunID,
			"requestId":     f.RequestID,
		}
	case FrameKindAudio:
		return map[string]any{
			"type":        "voice.audio_chunk",
			"data_base64": base64.StdEncoding.EncodeToString(f.Audio),
			"format":      f.AudioFormat,
			"sequence":    f.Sequence,
			"final":       f.Terminal,
		}
	case FrameKindTranscript:
		return map[string]any{
			"type":        "chat.transcript",
			"transcript":  f.Transcript,
			"confidence":  f.Confidence,
			"duration_ms": f.DurationMS,
		}
	case FrameKindStatus:
		return map[string]any{
			"type":     "status.update",
			"service":  service,
			"status":   f.Status,
			"metadata": f.Data,
		}
	case FrameKindComplete:
		frameType := "chat.complete"
		if f.Channel == "voice" {
			frameType = "voice.complete"
		}
		return map[string]any{
			"type":          frameType,
			"content":       f.Content,
			"pipelineRunId": f.RunID,
			"requestId":     f.RequestID,
			"metadata":      f.Metadata,
		}
	case FrameKindError:
		return map[string]any{
			"type":      "error",
			"code":      f.ErrorCode,
			"message":   f.ErrorMessage,
			"requestId": f.RequestID,
		}
	default:
		return map[string]any{"type": string(f.Kind)}
	}
}

func (b *Bridge) writeFrame(conn *Connection, rs *runStreams, f Frame) error {
	payload, err := json.Marshal(frameWireShape(rs.service, f))
	if err != nil {
		return err
	}
	return b.manager.sendRaw(conn, payload)
}
