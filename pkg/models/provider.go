package models

import "time"

// ProviderOperation names the kind of external call the Provider Call
// Gateway wraps (spec §3 "Provider Call Record").
type ProviderOperation string

const (
	OperationLLMGenerate  ProviderOperation = "llm.generate"
	OperationLLMStream    ProviderOperation = "llm.stream"
	OperationSTTTranscribe ProviderOperation = "stt.transcribe"
	OperationTTSSynthesize ProviderOperation = "tts.synthesize"
)

// ProviderCallRecord is written by the Provider Call Gateway for every
// external call, success or failure (spec §3, §4.2).
type ProviderCallRecord struct {
	ID                string            `json:"id"`
	RunID             string            `json:"run_id"`
	Operation         ProviderOperation `json:"operation"`
	Provider          string            `json:"provider"`
	Model             string            `json:"model"`
	RequestFingerprint string           `json:"request_fingerprint"`
	TokensIn          int64             `json:"tokens_in"`
	TokensOut         int64             `json:"tokens_out"`
	CachedTokens      int64             `json:"cached_tokens"`
	DurationMS        int64             `json:"duration_ms"`
	Success           bool              `json:"success"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// CostInputs holds the inputs the pricing hook needs for one call record;
// the hook's result is in hundredths-of-cents. AudioDurationMS and
// CharCount are 0 for text-only LLM calls; callers pass the relevant one
// for STT/TTS records.
type CostInputs struct {
	Operation       ProviderOperation
	Provider        string
	Model           string
	TokensIn        int64
	TokensOut       int64
	AudioDurationMS int64
	CharCount       int64
}
