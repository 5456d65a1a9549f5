// Package pipelines implements the concrete stage bodies behind the
// kernel's four canonical topologies (chat_fast, chat_accurate,
// voice_fast, voice_accurate — see pkg/config's builtin pipeline
// definitions): route, transcribe, generate, synthesize, assess, and
// persist. Every stage calls external providers exclusively through
// *provider.Gateway (spec §4.2), never directly against an
// LLMPort/STTPort/TTSPort, so retry/circuit/call-record bookkeeping is
// never bypassable.
package pipelines

import (
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/applier"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// Extra key convention for the run-scoped collaborators a stage factory
// needs beyond the PortBundle's named fields. The composition root that
// builds a run's PortBundle (outside this package) populates these;
// stage factories only read them.
const (
	ExtraProviders   = "providers"    // *config.ProviderRegistry
	ExtraLLMProvider = "llm_provider" // string: name registered in Providers
	ExtraSTTProvider = "stt_provider" // string
	ExtraTTSProvider = "tts_provider" // string
	ExtraPolicies    = "policies"     // *policy.Registry
	ExtraApplier     = "applier"      // *applier.Applier
)

// RegisterAll registers every stage factory this package provides under
// its canonical name, matching the stage names used in
// config.initBuiltinPipelines (router, transcribe, llm_stream,
// tts_stream, assessment, persist).
func RegisterAll(reg *stage.Registry) {
	reg.Register("router", config.StageKindRoute, NewRouterStage)
	reg.Register("transcribe", config.StageKindTransform, NewTranscribeStage)
	reg.Register("llm_stream", config.StageKindTransform, NewLLMStreamStage)
	reg.Register("tts_stream", config.StageKindTransform, NewTTSStreamStage)
	reg.Register("assessment", config.StageKindWork, NewAssessmentStage)
	reg.Register("persist", config.StageKindWork, NewPersistStage)
}

func providerRegistry(ports *stage.PortBundle) (*config.ProviderRegistry, error) {
	v, ok := ports.Extra[ExtraProviders]
	if !ok {
		return nil, fmt.Errorf("pipelines: %s missing from port bundle Extra", ExtraProviders)
	}
	reg, ok := v.(*config.ProviderRegistry)
	if !ok {
		return nil, fmt.Errorf("pipelines: %s is not a *config.ProviderRegistry", ExtraProviders)
	}
	return reg, nil
}

// resolveProvider looks up the provider name stored under extraKey and
// returns both the name and its configuration.
func resolveProvider(ports *stage.PortBundle, extraKey string) (string, *config.ProviderConfig, error) {
	registry, err := providerRegistry(ports)
	if err != nil {
		return "", nil, err
	}
	name, _ := ports.Extra[extraKey].(string)
	if name == "" {
		return "", nil, fmt.Errorf("pipelines: %s missing from port bundle Extra", extraKey)
	}
	cfg, err := registry.Get(name)
	if err != nil {
		return "", nil, fmt.Errorf("pipelines: resolve provider %s: %w", extraKey, err)
	}
	return name, cfg, nil
}

func policyRegistry(ports *stage.PortBundle) *policy.Registry {
	v, _ := ports.Extra[ExtraPolicies].(*policy.Registry)
	return v
}

func artifactApplier(ports *stage.PortBundle) *applier.Applier {
	v, _ := ports.Extra[ExtraApplier].(*applier.Applier)
	return v
}
