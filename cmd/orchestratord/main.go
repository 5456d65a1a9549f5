// Command orchestratord is the orchestration kernel's server entrypoint:
// HTTP/WebSocket API, config/env load, and the wiring of every
// collaborator (stage registry, run controller, event sink, streaming
// bridge, provider gateway and clients, policy/applier) into one
// *api.Server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/pipelinekit/orchestrator/pkg/api"
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
	"github.com/pipelinekit/orchestrator/pkg/stream"
)

const (
	breakerOpenThreshold     = 5
	breakerHalfOpenAfter     = 30 * time.Second
	breakerHalfOpenProbeGoal = 2
	streamWriteTimeout       = 10 * time.Second
	anthropicMaxTokens       = 4096

	sttProviderName = "openai-whisper"
	ttsProviderName = "openai-tts"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	log.Printf("Starting orchestrator kernel")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	log.Printf("Loaded config: %+v", cfg.Stats())

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	db := dbClient.DB()
	runSvc := services.NewRunService(db)
	dlqSvc := services.NewDLQService(db)
	eventSvc := services.NewEventService(db)
	callSvc := services.NewProviderCallService(db)
	artifactSvc := services.NewArtifactService(db)
	log.Println("Services initialized")

	// Manager and Sink are mutually referential: the Sink needs a
	// dispatch func at construction, but that func is a Manager method,
	// and NewManager itself takes the Sink. manager is forward-declared
	// so the dispatch closure can capture it by reference; it is only
	// ever invoked after StartListening, by which point manager is set.
	var manager *stream.Manager
	sink := events.NewSink(db, dbConfig.DSN(), func(channel string, payload []byte) {
		manager.Dispatch(channel, payload)
	})
	if err := sink.StartListening(ctx); err != nil {
		log.Fatalf("Failed to start event sink listener: %v", err)
	}
	manager = stream.NewManager(sink, &catchupAdapter{events: eventSvc}, streamWriteTimeout)
	bridge := stream.NewBridge(manager)

	cancels := cancel.New(sink)

	stageRegistry := stage.NewRegistry()
	pipelines.RegisterAll(stageRegistry)

	policies := policy.New(cfg.PolicyRegistry, sink)
	applierSvc := applier.New(policies, artifactSvc, sink)

	breaker := provider.NewBreaker(breakerOpenThreshold, breakerHalfOpenAfter, breakerHalfOpenProbeGoal)
	gateway := provider.NewGateway(callSvc, sink, breaker)

	llmClient, err := anthropicllm.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropicMaxTokens)
	if err != nil {
		log.Fatalf("Failed to construct Anthropic client: %v", err)
	}
	audioClient := openaiaudio.New(os.Getenv("OPENAI_API_KEY"), nil)

	controller := run.NewController(runSvc, dlqSvc, eventSvc, callSvc, cfg.PipelineRegistry, stageRegistry, cancels, sink)
	dlqAdmin := dlq.NewAdmin(dlqSvc)

	server := &api.Server{
		Config:      cfg,
		DB:          db,
		Runs:        runSvc,
		Controller:  controller,
		Cancels:     cancels,
		DLQAdmin:    dlqAdmin,
		Bridge:      bridge,
		StreamMgr:   manager,
		Gateway:     gateway,
		Policies:    policies,
		Applier:     applierSvc,
		LLM:         llmClient,
		STT:         audioClient,
		TTS:         audioClient,
		STTProvider: sttProviderName,
		TTSProvider: ttsProviderName,
	}
	router := api.NewRouter(server)

	log.Printf("HTTP server listening on :%s", httpPort)
	log.Printf("Health check available at: http://localhost:%s/health", httpPort)
	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// catchupAdapter satisfies stream.CatchupQuerier over *services.EventService,
// whose ListSince returns the service's own []*models.Event shape rather
// than stream's wire-oriented CatchupEvent.
type catchupAdapter struct {
	events *services.EventService
}

func (a *catchupAdapter) ListSince(ctx context.Context, runID string, afterID int64) ([]stream.CatchupEvent, error) {
	rows, err := a.events.ListSince(ctx, runID, afterID)
	if err != nil {
		return nil, err
	}
	out := make([]stream.CatchupEvent, len(rows))
	for i, row := range rows {
		out[i] = stream.CatchupEvent{ID: row.ID, Type: row.Type, Data: row.Data}
	}
	return out, nil
}
