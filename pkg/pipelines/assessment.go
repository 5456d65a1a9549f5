package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// assessmentSystemPrompt asks the model to grade its own prior reply — a
// cheap, single-call quality gate rather than a second independent
// judge model.
const assessmentSystemPrompt = "Rate the following assistant reply for accuracy and helpfulness on a scale of 0 to 1. Respond with only the number."

// assessmentStage runs a lightweight self-critique pass over the
// llm_stream reply, in the _accurate topologies only, and is itself
// skippable per-run via the router's skip_assessment condition. A
// failed assessment call degrades the run rather than failing it —
// the reply the user already received from llm_stream still stands.
type assessmentStage struct {
	gateway      *provider.Gateway
	llm          stage.LLMPort
	providerName string
	providerCfg  *config.ProviderConfig
}

// NewAssessmentStage builds the assessment stage, reusing the LLM
// provider named under ExtraLLMProvider.
func NewAssessmentStage(ports *stage.PortBundle) (stage.Stage, error) {
	name, cfg, err := resolveProvider(ports, ExtraLLMProvider)
	if err != nil {
		return nil, err
	}
	if ports.LLM == nil {
		return nil, fmt.Errorf("pipelines: assessment stage requires a non-nil LLM port")
	}
	return &assessmentStage{gateway: ports.Gateway, llm: ports.LLM, providerName: name, providerCfg: cfg}, nil
}

func (s *assessmentStage) Name() string { return "assessment" }

func (s *assessmentStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
	if in.Canceled() {
		return models.Skip("canceled")
	}

	generated, ok := in.Upstream("llm_stream")
	if !ok || generated.Status != models.StageOK {
		return models.Skip("llm_stream_not_ok")
	}
	text, _ := generated.Results["text"].(string)
	if text == "" {
		return models.Skip("empty_reply")
	}

	var verdict string
	err := s.gateway.Call(ctx, in.RunContext(), models.OperationLLMGenerate, s.providerName, s.providerCfg, s.providerCfg.Retry, func(callCtx context.Context) (int64, int64, int64, error) {
		req := provider.LLMRequest{
			Model:      s.providerCfg.Model,
			SystemText: assessmentSystemPrompt,
			Messages:   []models.Message{{Role: "user", Content: text}},
			MaxTokens:  8,
		}
		out, tokensIn, tokensOut, genErr := s.llm.Generate(callCtx, req)
		if genErr != nil {
			return 0, 0, 0, genErr
		}
		verdict = strings.TrimSpace(out)
		return tokensIn, tokensOut, 0, nil
	})
	if err != nil {
		return models.StageOutput{
			Status:   models.StageOK,
			Results:  map[string]any{"quality_score": 0.0, "assessment_error": err.Error()},
			Degraded: true,
		}
	}

	return models.OK(map[string]any{"quality_score": verdict})
}
