package pipelines

import (
	"context"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// ttsStreamStage synthesizes the assistant's reply to audio, streaming
// chunks to the client as they arrive. Voice topologies only.
type ttsStreamStage struct {
	gateway      *provider.Gateway
	tts          stage.TTSPort
	providerName string
	providerCfg  *config.ProviderConfig
}

// NewTTSStreamStage builds the tts_stream stage, resolving the TTS
// provider named under ExtraTTSProvider.
func NewTTSStreamStage(ports *stage.PortBundle) (stage.Stage, error) {
	name, cfg, err := resolveProvider(ports, ExtraTTSProvider)
	if err != nil {
		return nil, err
	}
	if ports.TTS == nil {
		return nil, fmt.Errorf("pipelines: tts_stream stage requires a non-nil TTS port")
	}
	return &ttsStreamStage{gateway: ports.Gateway, tts: ports.TTS, providerName: name, providerCfg: cfg}, nil
}

func (s *ttsStreamStage) Name() string { return "tts_stream" }

func (s *ttsStreamStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
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

	var audioBytes int
	err := s.gateway.Call(ctx, in.RunContext(), models.OperationTTSSynthesize, s.providerName, s.providerCfg, s.providerCfg.Retry, func(callCtx context.Context) (int64, int64, int64, error) {
		audioBytes = 0
		req := provider.TTSRequest{Model: s.providerCfg.Model, Text: text}
		synthErr := s.tts.Synthesize(callCtx, req, func(chunk provider.TTSChunk) error {
			if in.Canceled() {
				return context.Canceled
			}
			audioBytes += len(chunk.Audio)
			if in.Ports.Send.SendAudioChunk != nil {
				in.Ports.Send.SendAudioChunk(chunk.Audio, chunk.Done)
			}
			return nil
		})
		return 0, int64(len([]rune(text))), 0, synthErr
	})
	if err != nil {
		return models.Fail(fmt.Errorf("tts_stream: %w", err))
	}

	return models.OK(map[string]any{"audio_bytes": audioBytes})
}
