package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds the kernel's built-in providers and canonical
// pipeline topologies, merged with any user-supplied YAML at load time.
type BuiltinConfig struct {
	Providers map[string]ProviderConfig
	Pipelines map[string]PipelineConfig
	Policies  map[string]PolicyConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	pipelines := initBuiltinPipelines()
	builtinConfig = &BuiltinConfig{
		Providers: initBuiltinProviders(),
		Pipelines: pipelines,
		Policies:  initBuiltinPolicies(),
	}
}

func initBuiltinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"anthropic-claude": {
			Kind:                ProviderKindLLM,
			Type:                LLMProviderTypeAnthropic,
			Model:               "claude-sonnet-4-5",
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			MaxToolResultTokens: 8000,
		},
		"openai-whisper": {
			Kind:      ProviderKindSTT,
			Model:     "whisper-1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		"openai-tts": {
			Kind:      ProviderKindTTS,
			Model:     "tts-1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
	}
}

func initBuiltinPolicies() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		"default-pre-llm": {
			Checkpoint:  CheckpointPreLLM,
			Description: "allow all LLM generations unless overridden",
		},
		"default-pre-action": {
			Checkpoint:  CheckpointPreAction,
			Description: "allow all agent-requested actions unless overridden",
		},
		"default-pre-persist": {
			Checkpoint:  CheckpointPrePersist,
			Description: "enforce the system default artifact size caps",
			Caps: &SizeCaps{
				MaxArtifacts:            20,
				MaxArtifactPayloadBytes: 1 << 20,
			},
		},
	}
}

// initBuiltinPipelines builds the four canonical topologies named in the
// kernel's pipeline definition: chat_fast, chat_accurate (composed from
// chat_fast), voice_fast, voice_accurate (composed from voice_fast).
func initBuiltinPipelines() map[string]PipelineConfig {
	chatFast := PipelineConfig{
		Topology:        "chat_fast",
		Channel:         ChannelChat,
		Mode:            QualityModeFast,
		Description:     "single-pass chat: route, generate, persist",
		Deadline:        30 * time.Second,
		DefaultProvider: "anthropic-claude",
		Stages: []StageSpec{
			{Name: "router", Kind: StageKindRoute},
			{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
			{Name: "persist", Kind: StageKindWork, DependsOn: []string{"llm_stream"}},
		},
	}

	chatAccurate := Compose(chatFast, PipelineConfig{
		Topology:    "chat_accurate",
		Channel:     ChannelChat,
		Mode:        QualityModeAccurate,
		Description: "chat with a post-generation quality assessment stage",
		Deadline:    60 * time.Second,
		Stages: []StageSpec{
			{Name: "router", Kind: StageKindRoute},
			{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
			{
				Name: "assessment", Kind: StageKindWork,
				DependsOn: []string{"llm_stream"}, Conditional: true,
				ConditionField: "skip_assessment",
			},
			{Name: "persist", Kind: StageKindWork, DependsOn: []string{"llm_stream", "assessment"}},
		},
	})

	voiceFast := PipelineConfig{
		Topology:        "voice_fast",
		Channel:         ChannelVoice,
		Mode:            QualityModeFast,
		Description:     "single-pass voice: transcribe, generate, synthesize, persist",
		Deadline:        45 * time.Second,
		DefaultProvider: "anthropic-claude",
		Stages: []StageSpec{
			{Name: "transcribe", Kind: StageKindTransform},
			{Name: "router", Kind: StageKindRoute, DependsOn: []string{"transcribe"}},
			{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
			{Name: "tts_stream", Kind: StageKindTransform, DependsOn: []string{"llm_stream"}},
			{Name: "persist", Kind: StageKindWork, DependsOn: []string{"tts_stream"}},
		},
	}

	voiceAccurate := Compose(voiceFast, PipelineConfig{
		Topology:    "voice_accurate",
		Channel:     ChannelVoice,
		Mode:        QualityModeAccurate,
		Description: "voice with a post-generation quality assessment stage",
		Deadline:    90 * time.Second,
		Stages: []StageSpec{
			{Name: "transcribe", Kind: StageKindTransform},
			{Name: "router", Kind: StageKindRoute, DependsOn: []string{"transcribe"}},
			{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
			{Name: "tts_stream", Kind: StageKindTransform, DependsOn: []string{"llm_stream"}},
			{
				Name: "assessment", Kind: StageKindWork,
				DependsOn: []string{"llm_stream"}, Conditional: true,
				ConditionField: "skip_assessment",
			},
			{Name: "persist", Kind: StageKindWork, DependsOn: []string{"tts_stream", "assessment"}},
		},
	})

	return map[string]PipelineConfig{
		chatFast.Topology:      chatFast,
		chatAccurate.Topology:  chatAccurate,
		voiceFast.Topology:     voiceFast,
		voiceAccurate.Topology: voiceAccurate,
	}
}
