package pipelines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// llmStreamStage generates the assistant's reply, streaming tokens to
// the client as they arrive (spec §4.4's SendToken) while still
// accumulating the full text for downstream stages (tts_stream,
// persist). It is the one stage every topology depends on.
type llmStreamStage struct {
	gateway      *provider.Gateway
	llm          stage.LLMPort
	providerName string
	providerCfg  *config.ProviderConfig
	policies     *policy.Registry
}

// NewLLMStreamStage builds the llm_stream stage, resolving the LLM
// provider named under ExtraLLMProvider.
func NewLLMStreamStage(ports *stage.PortBundle) (stage.Stage, error) {
	name, cfg, err := resolveProvider(ports, ExtraLLMProvider)
	if err != nil {
		return nil, err
	}
	if ports.LLM == nil {
		return nil, fmt.Errorf("pipelines: llm_stream stage requires a non-nil LLM port")
	}
	return &llmStreamStage{gateway: ports.Gateway, llm: ports.LLM, providerName: name, providerCfg: cfg, policies: policyRegistry(ports)}, nil
}

func (s *llmStreamStage) Name() string { return "llm_stream" }

func (s *llmStreamStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
	if in.Canceled() {
		return models.Skip("canceled")
	}

	userTurn := in.Snapshot.InputText
	if transcribed, ok := in.Upstream("transcribe"); ok && transcribed.Status == models.StageOK {
		if t, ok := transcribed.Results["transcript"].(string); ok {
			userTurn = t
		}
	}

	if s.policies != nil {
		rc := in.RunContext()
		result, err := s.policies.Evaluate(ctx, config.CheckpointPreLLM, policy.Context{
			RunID: rc.RunID, RequestID: rc.RequestID, SessionID: rc.SessionID,
			PrincipalID: rc.PrincipalID, TenantID: rc.TenantID,
			Service: in.Snapshot.Topology, Intent: "generate", InputExcerpt: excerpt(userTurn),
		})
		if err != nil {
			return models.Fail(fmt.Errorf("llm_stream: evaluate pre_llm: %w", err))
		}
		if result.Decision == config.DecisionBlock {
			return models.Skip("blocked_by_policy:" + result.Reason)
		}
	}

	messages := make([]models.Message, 0, len(in.Snapshot.Messages)+1)
	messages = append(messages, in.Snapshot.Messages...)
	if userTurn != "" {
		messages = append(messages, models.Message{Role: "user", Content: userTurn, Timestamp: time.Now()})
	}

	var reply strings.Builder
	err := s.gateway.Call(ctx, in.RunContext(), models.OperationLLMStream, s.providerName, s.providerCfg, s.providerCfg.Retry, func(callCtx context.Context) (int64, int64, int64, error) {
		reply.Reset()
		var tokensIn, tokensOut, cachedTokens int64
		req := provider.LLMRequest{Model: s.providerCfg.Model, Messages: messages}
		streamErr := s.llm.Stream(callCtx, req, func(chunk provider.LLMChunk) error {
			if in.Canceled() {
				return context.Canceled
			}
			reply.WriteString(chunk.Delta)
			if in.Ports.Send.SendToken != nil {
				in.Ports.Send.SendToken(chunk.Delta, chunk.Done)
			}
			if chunk.Done {
				tokensIn, tokensOut, cachedTokens = chunk.TokensIn, chunk.TokensOut, chunk.CachedTokens
			}
			return nil
		})
		return tokensIn, tokensOut, cachedTokens, streamErr
	})
	if err != nil {
		return models.Fail(fmt.Errorf("llm_stream: %w", err))
	}

	return models.OK(map[string]any{"text": reply.String()})
}

// excerpt truncates s to a short prefix suitable for a policy.Context's
// InputExcerpt, never the full turn.
func excerpt(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
