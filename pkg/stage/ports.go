package stage

import (
	"database/sql"
	"sync"

	"github.com/pipelinekit/orchestrator/pkg/provider"
)

// SendFuncs bundles the Streaming Bridge's injected client-fanout
// callbacks (spec §4.4 "send token, send audio chunk, send transcript,
// send status"). A stage only calls the ones relevant to its kind; the
// composition root (pkg/api's Server) wires these to a pkg/stream.Bridge
// for a real run and
// to recording stubs in tests. SendComplete and SendError are not called
// by any stage — they back the Run Controller's own terminal frame, but
// live here too since the composition root closes over the same run id,
// channel, and request id to build every one of these callbacks together.
type SendFuncs struct {
	SendToken      func(text string, terminal bool)
	SendAudioChunk func(chunk []byte, terminal bool)
	SendTranscript func(transcript string, confidence float64, durationMS int64)
	SendStatus     func(status string, metadata any, terminal bool)
	SendComplete   func(content string, metadata any)
	SendError      func(code, message string)
}

// PortBundle is the frozen bag of typed capabilities a stage constructor
// may declare a need for (spec §4.4). It is built once per run; only the
// fields a stage factory actually reads are "injected" in the sense the
// spec describes — Go has no reflection-based named-parameter binding,
// so instead every factory closure receives the whole bundle and simply
// ignores the fields it doesn't use, which is the idiomatic Go
// expression of "only the parameters the stage's constructor actually
// accepts are passed".
type PortBundle struct {
	DB *sql.DB

	// RunLock optionally serializes writers within one run that would
	// otherwise race on the same row (spec §5 "db_lock").
	RunLock *sync.Mutex

	Gateway *provider.Gateway

	LLM LLMPort
	STT STTPort
	TTS TTSPort

	Send SendFuncs

	// RecordingMetadata and AudioBytes back voice-channel stages that
	// need the original request's audio without threading it through
	// every stage's Results map.
	RecordingMetadata map[string]any
	AudioBytes        []byte

	// Extra carries anything a concrete pipeline's stages need that
	// isn't common enough to deserve its own named field (e.g. a memory
	// store handle, a profile service client). Keyed by a name the
	// stage factory and the Run Controller wiring agree on out of band.
	Extra map[string]any
}

// LLMPort, STTPort, TTSPort name the provider client contracts a stage
// factory may request, resolved by the Run Controller from the
// provider configuration the pipeline's default or stage override names.
type LLMPort = provider.LLMClient
type STTPort = provider.STTClient
type TTSPort = provider.TTSClient
