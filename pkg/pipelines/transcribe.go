package pipelines

import (
	"context"
	"fmt"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// transcribeStage turns the run's recorded audio into text via the STT
// port, routed through the Gateway so retries and call records apply the
// same as every other provider operation.
type transcribeStage struct {
	gateway      *provider.Gateway
	stt          stage.STTPort
	providerName string
	providerCfg  *config.ProviderConfig
}

// NewTranscribeStage builds the transcribe stage, resolving the STT
// provider named under ExtraSTTProvider.
func NewTranscribeStage(ports *stage.PortBundle) (stage.Stage, error) {
	name, cfg, err := resolveProvider(ports, ExtraSTTProvider)
	if err != nil {
		return nil, err
	}
	if ports.STT == nil {
		return nil, fmt.Errorf("pipelines: transcribe stage requires a non-nil STT port")
	}
	return &transcribeStage{gateway: ports.Gateway, stt: ports.STT, providerName: name, providerCfg: cfg}, nil
}

func (s *transcribeStage) Name() string { return "transcribe" }

func (s *transcribeStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
	if in.Canceled() {
		return models.Skip("canceled")
	}
	if len(in.Snapshot.AudioBytes) == 0 {
		return models.Fail(fmt.Errorf("transcribe: no audio bytes in request"))
	}

	var text string
	start := time.Now()
	err := s.gateway.Call(ctx, in.RunContext(), models.OperationSTTTranscribe, s.providerName, s.providerCfg, s.providerCfg.Retry, func(callCtx context.Context) (int64, int64, int64, error) {
		req := provider.STTRequest{Model: s.providerCfg.Model, Audio: in.Snapshot.AudioBytes}
		out, err := s.stt.Transcribe(callCtx, req)
		if err != nil {
			return 0, 0, 0, err
		}
		text = out
		return 0, 0, 0, nil
	})
	if err != nil {
		return models.Fail(fmt.Errorf("transcribe: %w", err))
	}

	if in.Ports.Send.SendTranscript != nil {
		in.Ports.Send.SendTranscript(text, 1.0, time.Since(start).Milliseconds())
	}

	return models.OK(map[string]any{"transcript": text})
}
