package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ProviderRegistry: NewProviderRegistry(map[string]*ProviderConfig{
			"anthropic-claude": {Kind: ProviderKindLLM, Type: LLMProviderTypeAnthropic, Model: "claude-sonnet-4-5"},
		}),
		PolicyRegistry: NewPolicyRegistry(map[string]*PolicyConfig{
			"default-pre-persist": {Checkpoint: CheckpointPrePersist, Caps: &SizeCaps{MaxArtifacts: 10, MaxArtifactPayloadBytes: 1024}},
		}),
		PipelineRegistry: NewPipelineRegistry(map[string]*PipelineConfig{
			"chat_fast": {
				Topology: "chat_fast", Channel: ChannelChat, Mode: QualityModeFast,
				DefaultProvider: "anthropic-claude",
				Stages: []StageSpec{
					{Name: "router", Kind: StageKindRoute},
					{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
				},
			},
		}),
	}
}

func TestValidateAllAcceptsValidConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidatePipelineRejectsUnknownDependency(t *testing.T) {
	cfg := validConfig()
	p := cfg.PipelineRegistry.GetAll()["chat_fast"]
	p.Stages = []StageSpec{
		{Name: "llm_stream", Kind: StageKindTransform, DependsOn: []string{"router"}},
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestValidatePipelineRejectsDuplicateStageNames(t *testing.T) {
	cfg := validConfig()
	p := cfg.PipelineRegistry.GetAll()["chat_fast"]
	p.Stages = []StageSpec{
		{Name: "router", Kind: StageKindRoute},
		{Name: "router", Kind: StageKindRoute},
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidatePipelineRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := validConfig()
	p := cfg.PipelineRegistry.GetAll()["chat_fast"]
	p.DefaultProvider = "does-not-exist"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestValidatePolicyRejectsCapsOutsidePrePersist(t *testing.T) {
	cfg := validConfig()
	cfg.PolicyRegistry = NewPolicyRegistry(map[string]*PolicyConfig{
		"bad": {Checkpoint: CheckpointPreLLM, Caps: &SizeCaps{MaxArtifacts: 1}},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateConditionalStageRequiresConditionField(t *testing.T) {
	cfg := validConfig()
	p := cfg.PipelineRegistry.GetAll()["chat_fast"]
	p.Stages = append(p.Stages, StageSpec{
		Name: "assessment", Kind: StageKindWork, DependsOn: []string{"llm_stream"}, Conditional: true,
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
