package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateLLMCostCentsKnownModel(t *testing.T) {
	cost := EstimateLLMCostCents("anthropic", "claude-sonnet-4-5", 1000, 1000)
	// 1000/1000 * 3.0 + 1000/1000 * 15.0 = 18.0 -> rounds to 18
	assert.Equal(t, int64(18), cost)
}

func TestEstimateLLMCostCentsFallsBackToProviderDefault(t *testing.T) {
	cost := EstimateLLMCostCents("anthropic", "some-unlisted-model", 1000, 0)
	assert.Equal(t, int64(4), cost) // anthropicCostPer1KTokensHundredths
}

func TestEstimateLLMCostCentsZeroTokensIsZero(t *testing.T) {
	assert.Equal(t, int64(0), EstimateLLMCostCents("openai", "gpt-4o", 0, 0))
}

func TestEstimateLLMCostCentsSmallNonZeroRoundsUpToOne(t *testing.T) {
	cost := EstimateLLMCostCents("openai", "gpt-4o-mini", 10, 0)
	assert.Equal(t, int64(1), cost, "strictly positive cost must never floor to 0")
}

func TestEstimateSTTCostCentsZeroDurationIsZero(t *testing.T) {
	assert.Equal(t, int64(0), EstimateSTTCostCents("openai", "whisper-1", 0))
}

func TestEstimateSTTCostCentsScalesWithDuration(t *testing.T) {
	cost := EstimateSTTCostCents("openai", "whisper-1", 60_000) // 60s
	assert.Equal(t, int64(43), cost)                            // 60 * 0.7166667 ≈ 43
}

func TestEstimateTTSCostCentsScalesWithCharCount(t *testing.T) {
	cost := EstimateTTSCostCents("openai", "tts-1", 1000)
	assert.Equal(t, int64(160), cost) // 1000 * 0.16 = 160
}

func TestEstimateTTSCostCentsUnknownProviderIsZero(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTTSCostCents("unknown", "unknown", 1000))
}
