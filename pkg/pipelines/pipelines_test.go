package pipelines

import (
	"context"
	"sync"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

type fakeCallRecorder struct {
	mu      sync.Mutex
	records int
}

func (f *fakeCallRecorder) Record(ctx context.Context, rec *models.ProviderCallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records++
	return nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	durable []string
	fired   []string
}

func (f *fakeEmitter) EmitFireAndForget(rc events.RunContext, eventType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, eventType)
}

func (f *fakeEmitter) EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durable = append(f.durable, eventType)
	return nil
}

func testGateway() (*provider.Gateway, *fakeCallRecorder, *fakeEmitter) {
	calls := &fakeCallRecorder{}
	emitter := &fakeEmitter{}
	return provider.NewGateway(calls, emitter, provider.NewBreaker(3, time.Minute, 2)), calls, emitter
}

func testProviders() *config.ProviderRegistry {
	return config.NewProviderRegistry(map[string]*config.ProviderConfig{
		"anthropic-claude": {Kind: config.ProviderKindLLM, Type: config.LLMProviderTypeAnthropic, Model: "claude-sonnet-4-5"},
		"openai-whisper":   {Kind: config.ProviderKindSTT, Model: "whisper-1"},
		"openai-tts":       {Kind: config.ProviderKindTTS, Model: "tts-1"},
	})
}

// fakeLLM implements stage.LLMPort.
type fakeLLM struct {
	generateText string
	generateErr  error
	streamChunks []provider.LLMChunk
	streamErr    error
}

func (f *fakeLLM) Generate(ctx context.Context, req provider.LLMRequest) (string, int64, int64, error) {
	if f.generateErr != nil {
		return "", 0, 0, f.generateErr
	}
	return f.generateText, 1, 1, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req provider.LLMRequest, onChunk func(provider.LLMChunk) error) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, c := range f.streamChunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

// fakeSTT implements stage.STTPort.
type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, req provider.STTRequest) (string, error) {
	return f.text, f.err
}

// fakeTTS implements stage.TTSPort.
type fakeTTS struct {
	chunks []provider.TTSChunk
	err    error
}

func (f *fakeTTS) Synthesize(ctx context.Context, req provider.TTSRequest, onChunk func(provider.TTSChunk) error) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

type recordedSends struct {
	mu          sync.Mutex
	tokens      []string
	audioChunks [][]byte
	transcripts []string
	statuses    []any
}

func (r *recordedSends) funcs() stage.SendFuncs {
	return stage.SendFuncs{
		SendToken: func(text string, terminal bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tokens = append(r.tokens, text)
		},
		SendAudioChunk: func(chunk []byte, terminal bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.audioChunks = append(r.audioChunks, chunk)
		},
		SendTranscript: func(transcript string, confidence float64, durationMS int64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, transcript)
		},
		SendStatus: func(status string, metadata any, terminal bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, metadata)
		},
	}
}

func testSnapshot() *models.ContextSnapshot {
	return &models.ContextSnapshot{
		RunID:     "run-1",
		Topology:  "chat_fast",
		Channel:   "chat",
		InputText: "hello there",
	}
}

func testRunContext() events.RunContext {
	return events.RunContext{RunID: "run-1", RequestID: "req-1"}
}

func newTestInputs(snapshot *models.ContextSnapshot, ports *stage.PortBundle, upstream map[string]models.StageOutput, sink interface {
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
	EmitFireAndForget(rc events.RunContext, eventType string, data any)
}) stage.Inputs {
	return stage.NewInputs(snapshot, ports, upstream, testRunContext(), sink, nil)
}

func testPolicies(cfgs map[string]*config.PolicyConfig) *policy.Registry {
	return policy.New(config.NewPolicyRegistry(cfgs), nil)
}
