package provider

import "strings"

// Pricing rate tables, in hundredths-of-a-cent, matching
// models.ProviderCallRecord/Run cost fields. Ported in semantics (not
// code) from the conversational pipeline this kernel generalizes —
// provider/model names changed to the kernel's own canonical providers
// (see pkg/config builtin.go), rate shape and rounding rule kept exact.
const (
	anthropicCostPer1KTokensHundredths = 4.0
	openAICostPer1KTokensHundredths    = 2.7

	whisperCostPerSecondHundredths = 0.7166667

	ttsCostPerCharHundredths = 0.16
)

// llmInputRates and llmOutputRates hold per-(provider,model) overrides
// in hundredths-of-a-cent per 1,000 tokens. Looked up before falling
// back to the provider-level defaults above.
var llmInputRates = map[string]float64{
	"anthropic/claude-sonnet-4-5": 3.0,
	"anthropic/claude-haiku-4-5":  0.8,
	"openai/gpt-4o":               2.5,
	"openai/gpt-4o-mini":          0.15,
}

var llmOutputRates = map[string]float64{
	"anthropic/claude-sonnet-4-5": 15.0,
	"anthropic/claude-haiku-4-5":  4.0,
	"openai/gpt-4o":               10.0,
	"openai/gpt-4o-mini":          0.6,
}

func rateKey(prov, model string) string {
	return strings.ToLower(prov) + "/" + strings.ToLower(model)
}

// EstimateLLMCostCents computes the cost of one LLM call in
// hundredths-of-a-cent, rounding to the nearest unit with a floor of 1
// for any strictly positive cost — so small calls never silently
// register as free due to integer truncation.
func EstimateLLMCostCents(providerName, model string, tokensIn, tokensOut int64) int64 {
	total := tokensIn + tokensOut
	if total <= 0 {
		return 0
	}

	key := rateKey(providerName, model)
	inRate, hasIn := llmInputRates[key]
	outRate, hasOut := llmOutputRates[key]
	if !hasIn || !hasOut {
		fallback := openAICostPer1KTokensHundredths
		if strings.Contains(strings.ToLower(providerName), "anthropic") {
			fallback = anthropicCostPer1KTokensHundredths
		}
		if !hasIn {
			inRate = fallback
		}
		if !hasOut {
			outRate = fallback
		}
	}

	cost := (float64(tokensIn)/1000)*inRate + (float64(tokensOut)/1000)*outRate
	return roundCost(cost)
}

// EstimateSTTCostCents computes the cost of one transcription call from
// audio duration in milliseconds.
func EstimateSTTCostCents(providerName, model string, audioDurationMS int64) int64 {
	if audioDurationMS <= 0 {
		return 0
	}
	rate := 0.0
	if strings.Contains(strings.ToLower(providerName), "openai") || strings.Contains(strings.ToLower(model), "whisper") {
		rate = whisperCostPerSecondHundredths
	}
	seconds := float64(audioDurationMS) / 1000
	return roundCost(seconds * rate)
}

// EstimateTTSCostCents computes the cost of one synthesis call from
// output character count.
func EstimateTTSCostCents(providerName, model string, charCount int64) int64 {
	if charCount <= 0 {
		return 0
	}
	rate := 0.0
	if strings.Contains(strings.ToLower(providerName), "openai") || strings.Contains(strings.ToLower(model), "tts") {
		rate = ttsCostPerCharHundredths
	}
	return roundCost(float64(charCount) * rate)
}

// roundCost rounds to the nearest integer unit, flooring a strictly
// positive fractional cost up to at least 1 rather than letting it
// round down to 0.
func roundCost(cost float64) int64 {
	if cost <= 0 {
		return 0
	}
	units := int64(cost + 0.5)
	if units < 1 {
		units = 1
	}
	return units
}
