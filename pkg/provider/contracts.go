// Package provider defines the ProviderClient contracts (§6), the call
// Gateway that wraps every external call with logging/timing/retry and
// an observe-only circuit breaker (§4.2), and the pricing hook (§6).
package provider

import (
	"context"

	"github.com/pipelinekit/orchestrator/pkg/models"
)

// LLMRequest is the normalized input to an LLM provider call, whether
// streaming or not.
type LLMRequest struct {
	Model       string
	SystemText  string
	Messages    []models.Message
	MaxTokens   int
	Temperature float64
}

// LLMChunk is one piece of a streaming LLM response. A chunk with
// Done=true is the last one and carries the final usage counts.
type LLMChunk struct {
	Delta        string
	Done         bool
	TokensIn     int64
	TokensOut    int64
	CachedTokens int64
}

// LLMClient is the contract every LLM provider implementation satisfies.
// Generate is used by topologies that don't need token-level streaming
// (e.g. the assessment stage); Stream is used by the llm_stream stage.
type LLMClient interface {
	Generate(ctx context.Context, req LLMRequest) (text string, tokensIn, tokensOut int64, err error)
	Stream(ctx context.Context, req LLMRequest, onChunk func(LLMChunk) error) error
}

// STTRequest is the normalized input to a speech-to-text call.
type STTRequest struct {
	Model         string
	Audio         []byte
	Language      string
	AudioDuration int64 // milliseconds, supplied by the caller (the provider rarely reports it back reliably)
}

// STTClient is the contract every speech-to-text provider implementation
// satisfies.
type STTClient interface {
	Transcribe(ctx context.Context, req STTRequest) (text string, err error)
}

// TTSRequest is the normalized input to a text-to-speech call.
type TTSRequest struct {
	Model string
	Text  string
	Voice string
}

// TTSChunk is one piece of synthesized audio. A chunk with Done=true is
// the last one.
type TTSChunk struct {
	Audio []byte
	Done  bool
}

// TTSClient is the contract every text-to-speech provider implementation
// satisfies.
type TTSClient interface {
	Synthesize(ctx context.Context, req TTSRequest, onChunk func(TTSChunk) error) error
}
