package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/applier"
	"github.com/pipelinekit/orchestrator/pkg/cancel"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/database"
	"github.com/pipelinekit/orchestrator/pkg/dlq"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/pipelines"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/provider/anthropicllm"
	"github.com/pipelinekit/orchestrator/pkg/provider/openaiaudio"
	"github.com/pipelinekit/orchestrator/pkg/run"
	"github.com/pipelinekit/orchestrator/pkg/services"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

const (
	breakerOpenThreshold     = 5
	breakerHalfOpenAfter     = 30 * time.Second
	breakerHalfOpenProbeGoal = 2
	anthropicMaxTokens       = 4096

	sttProviderName = "openai-whisper"
	ttsProviderName = "openai-tts"
)

// toolkit bundles the subset of the kernel's collaborators an operator
// command needs: the DLQ admin surface for list/inspect/resolve/stats,
// and (lazily, only for reprocess) a full Run Controller to replay a
// captured failure. Built fresh per CLI invocation — this is a
// short-lived process, not a server.
type toolkit struct {
	db       *database.Client
	dlqSvc   *services.DLQService
	admin    *dlq.Admin
	cfg      *config.Config
	eventSvc *services.EventService
	callSvc  *services.ProviderCallService
	runSvc   *services.RunService
	sink     *events.Sink
}

func newToolkit(ctx context.Context, configDir string) (*toolkit, error) {
	cfg, err := config.Initialize(configDir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db := dbClient.DB()
	dlqSvc := services.NewDLQService(db)
	sink := events.NewSink(db, dbConfig.DSN(), func(string, []byte) {})

	return &toolkit{
		db:       dbClient,
		dlqSvc:   dlqSvc,
		admin:    dlq.NewAdmin(dlqSvc),
		cfg:      cfg,
		eventSvc: services.NewEventService(db),
		callSvc:  services.NewProviderCallService(db),
		runSvc:   services.NewRunService(db),
		sink:     sink,
	}, nil
}

func (t *toolkit) close() {
	_ = t.db.Close()
}

// controller builds a Run Controller on demand for the reprocess
// command — the only dlqctl operation that actually executes a
// pipeline, so it's the only one that pays for a stage registry and
// cancellation registry.
func (t *toolkit) controller() *run.Controller {
	stageRegistry := stage.NewRegistry()
	pipelines.RegisterAll(stageRegistry)
	cancels := cancel.New(nil)
	return run.NewController(t.runSvc, t.dlqSvc, t.eventSvc, t.callSvc, t.cfg.PipelineRegistry, stageRegistry, cancels, t.sink)
}

// reprocessPorts builds a PortBundle with the same provider gateway,
// clients, policy, and applier wiring cmd/orchestratord gives a live
// run, so a CLI reprocess exercises the pipeline for real rather than
// failing on a missing collaborator.
func (t *toolkit) reprocessPorts(pipelineCfg *config.PipelineConfig) (*stage.PortBundle, error) {
	llmClient, err := anthropicllm.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropicMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("construct anthropic client: %w", err)
	}
	audioClient := openaiaudio.New(os.Getenv("OPENAI_API_KEY"), nil)
	breaker := provider.NewBreaker(breakerOpenThreshold, breakerHalfOpenAfter, breakerHalfOpenProbeGoal)
	gateway := provider.NewGateway(t.callSvc, t.sink, breaker)
	policies := policy.New(t.cfg.PolicyRegistry, t.sink)
	artifactSvc := services.NewArtifactService(t.db.DB())
	applierSvc := applier.New(policies, artifactSvc, t.sink)

	return &stage.PortBundle{
		DB:      t.db.DB(),
		Gateway: gateway,
		LLM:     llmClient,
		STT:     audioClient,
		TTS:     audioClient,
		Send: stage.SendFuncs{
			SendToken:      func(string, bool) {},
			SendAudioChunk: func([]byte, bool) {},
			SendTranscript: func(string, float64, int64) {},
			SendStatus:     func(string, any, bool) {},
			SendComplete:   func(string, any) {},
			SendError:      func(string, string) {},
		},
		Extra: map[string]any{
			pipelines.ExtraProviders:   t.cfg.ProviderRegistry,
			pipelines.ExtraLLMProvider: pipelineCfg.DefaultProvider,
			pipelines.ExtraSTTProvider: sttProviderName,
			pipelines.ExtraTTSProvider: ttsProviderName,
			pipelines.ExtraPolicies:    policies,
			pipelines.ExtraApplier:     applierSvc,
		},
	}, nil
}
