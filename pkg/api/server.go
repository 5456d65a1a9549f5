// Package api is the kernel's HTTP and WebSocket surface: creating and
// inspecting runs, cancelling a run in flight, attaching a Streaming
// Bridge connection, and the operator-facing dead-letter queue
// endpoints. Every handler is a thin adapter over pkg/run, pkg/cancel,
// pkg/stream, and pkg/dlq — no orchestration logic lives here.
package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/pipelinekit/orchestrator/pkg/applier"
	"github.com/pipelinekit/orchestrator/pkg/cancel"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/dlq"
	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/pipelines"
	"github.com/pipelinekit/orchestrator/pkg/policy"
	"github.com/pipelinekit/orchestrator/pkg/provider"
	"github.com/pipelinekit/orchestrator/pkg/run"
	"github.com/pipelinekit/orchestrator/pkg/services"
	"github.com/pipelinekit/orchestrator/pkg/stage"
	"github.com/pipelinekit/orchestrator/pkg/stream"
)

// runStore is the subset of *services.RunService this package reads.
type runStore interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// Server bundles every collaborator an HTTP handler needs. Built once by
// the composition root (cmd/orchestratord) and shared across requests;
// per-run state (Send funcs, cancellation handle) is built fresh inside
// createRun.
type Server struct {
	Config      *config.Config
	DB          *sql.DB
	Runs        runStore
	Controller  *run.Controller
	Cancels     *cancel.Registry
	DLQAdmin    *dlq.Admin
	Bridge      *stream.Bridge
	StreamMgr   *stream.Manager
	Gateway     *provider.Gateway
	Policies    *policy.Registry
	Applier     *applier.Applier
	LLM         provider.LLMClient
	STT         provider.STTClient
	TTS         provider.TTSClient
	STTProvider string
	TTSProvider string
}

// NewRouter builds the gin engine with every route this server answers,
// matching the teacher's gin.Default()-plus-gin.H response-body style.
func NewRouter(s *Server) *gin.Engine {
	router := gin.Default()

	router.GET("/health", s.health)

	v1 := router.Group("/v1")
	{
		v1.POST("/runs", s.createRun)
		v1.GET("/runs/:id", s.getRun)
		v1.POST("/runs/:id/cancel", s.cancelRun)
		v1.GET("/runs/:id/stream", s.attachStream)

		dlqGroup := v1.Group("/dlq")
		{
			dlqGroup.GET("", s.listDLQ)
			dlqGroup.GET("/stats", s.dlqStats)
			dlqGroup.GET("/:id", s.inspectDLQ)
			dlqGroup.POST("/:id/resolve", s.resolveDLQ)
			dlqGroup.POST("/:id/reprocess", s.reprocessDLQ)
		}
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.DB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	stats := s.Config.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"config": gin.H{
			"pipelines": stats.Pipelines,
			"providers": stats.Providers,
			"policies":  stats.Policies,
		},
	})
}

// createRunRequest is the wire shape for POST /v1/runs (spec §6 "create
// run"). AudioBase64 carries the voice channel's recorded utterance.
type createRunRequest struct {
	Service     string           `json:"service" binding:"required"`
	PrincipalID string           `json:"principal_id" binding:"required"`
	TenantID    string           `json:"tenant_id" binding:"required"`
	RequesterID string           `json:"requester_id"`
	Topology    string           `json:"topology" binding:"required"`
	Channel     string           `json:"channel" binding:"required,oneof=chat voice"`
	InputText   string           `json:"input_text"`
	AudioBase64 string           `json:"audio_base64"`
	Messages    []models.Message `json:"messages"`
	RequestID   string           `json:"request_id"`
	SessionID   string           `json:"session_id"`
}

// createRun allocates a run id, wires its Streaming Bridge lanes, and
// starts the Run Controller in the background — the HTTP response
// carries only the run id; the client follows up with a WebSocket
// attach to receive tokens/audio/status and the terminal frame.
func (s *Server) createRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pipelineCfg, err := s.Config.GetPipeline(req.Topology)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown topology: " + req.Topology})
		return
	}

	var audio []byte
	if req.AudioBase64 != "" {
		decoded, err := decodeAudio(req.AudioBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audio_base64: " + err.Error()})
			return
		}
		audio = decoded
	}

	runID := services.NewRunID()
	s.Bridge.EnsureRun(runID, req.Channel, req.Service, req.RequestID)

	runReq := run.Request{
		RunID: runID, Service: req.Service, RequesterID: req.RequesterID,
		PrincipalID: req.PrincipalID, TenantID: req.TenantID,
		Topology: req.Topology, Channel: req.Channel,
		InputText: req.InputText, AudioBytes: audio, Messages: req.Messages,
		RequestID: req.RequestID, SessionID: req.SessionID,
		Ports: s.buildPortBundle(runID, pipelineCfg),
	}

	go func() {
		ctx := context.Background()
		if _, err := s.Controller.Start(ctx, runReq); err != nil {
			slog.Error("run start failed", "run_id", runID, "error", err)
		}
		s.Bridge.Detach(runID)
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "topology": req.Topology, "status": "created"})
}

// buildPortBundle assembles one run's PortBundle: the shared
// gateway/clients/policy collaborators this server was constructed
// with, plus the Send callbacks that funnel this specific run's frames
// through the Streaming Bridge.
func (s *Server) buildPortBundle(runID string, pipelineCfg *config.PipelineConfig) *stage.PortBundle {
	sttProvider, ttsProvider := s.STTProvider, s.TTSProvider
	return &stage.PortBundle{
		DB:      s.DB,
		Gateway: s.Gateway,
		LLM:     s.LLM,
		STT:     s.STT,
		TTS:     s.TTS,
		Send: stage.SendFuncs{
			SendToken:      func(text string, terminal bool) { s.Bridge.PushToken(runID, text, terminal) },
			SendAudioChunk: func(chunk []byte, terminal bool) { s.Bridge.PushAudio(runID, "pcm16", chunk, terminal) },
			SendTranscript: func(transcript string, confidence float64, durationMS int64) {
				s.Bridge.PushTranscript(runID, transcript, confidence, durationMS)
			},
			SendStatus: func(status string, metadata any, terminal bool) {
				s.Bridge.PushStatus(runID, status, metadata, terminal)
			},
			SendComplete: func(content string, metadata any) { s.Bridge.PushComplete(runID, content, metadata) },
			SendError:    func(code, message string) { s.Bridge.PushError(runID, code, message) },
		},
		Extra: map[string]any{
			pipelines.ExtraProviders:   s.Config.ProviderRegistry,
			pipelines.ExtraLLMProvider: pipelineCfg.DefaultProvider,
			pipelines.ExtraSTTProvider: sttProvider,
			pipelines.ExtraTTSProvider: ttsProvider,
			pipelines.ExtraPolicies:    s.Policies,
			pipelines.ExtraApplier:     s.Applier,
		},
	}
}

func decodeAudio(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

func (s *Server) getRun(c *gin.Context) {
	runID := c.Param("id")
	runRow, err := s.Runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, kernelerrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runRow)
}

type cancelRunRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelRun(c *gin.Context) {
	runID := c.Param("id")
	var req cancelRunRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "client_requested"
	}

	hostedHere, err := s.Cancels.RequestCancel(c.Request.Context(), runID, req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "hosted_here": hostedHere})
}

// attachStream upgrades to a WebSocket and blocks for the connection's
// lifetime, matching the teacher's handler_ws.go accept pattern adapted
// from echo's request/response pair to gin's.
func (s *Server) attachStream(c *gin.Context) {
	runID := c.Param("id")
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	s.StreamMgr.HandleConnection(c.Request.Context(), runID, conn, s.Bridge)
}

func (s *Server) listDLQ(c *gin.Context) {
	status := models.DLQStatus(c.DefaultQuery("status", string(models.DLQStatusPending)))
	limit := 50
	entries, err := s.DLQAdmin.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) dlqStats(c *gin.Context) {
	stats, err := s.DLQAdmin.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) inspectDLQ(c *gin.Context) {
	view, err := s.DLQAdmin.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, kernelerrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dlq entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

type resolveDLQRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Notes      string `json:"notes"`
}

func (s *Server) resolveDLQ(c *gin.Context) {
	var req resolveDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.DLQAdmin.Resolve(c.Request.Context(), c.Param("id"), req.ResolvedBy, req.Notes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type reprocessDLQRequest struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	TenantID    string `json:"tenant_id" binding:"required"`
	RequesterID string `json:"requester_id"`
}

// reprocessDLQ replays a captured failure through the Run Controller
// (spec §4.11 "reprocess"), tagging the outcome back onto the
// dead-letter entry so the admin view reflects whether the retry stuck.
func (s *Server) reprocessDLQ(c *gin.Context) {
	id := c.Param("id")
	var req reprocessDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := s.DLQAdmin.Inspect(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, kernelerrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dlq entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pipelineCfg, err := s.Config.GetPipeline(view.Input.Topology)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown topology: " + view.Input.Topology})
		return
	}

	runID := services.NewRunID()
	s.Bridge.EnsureRun(runID, view.Input.Channel, view.DeadLetterEntry.Service, "")
	ports := s.buildPortBundle(runID, pipelineCfg)

	go func() {
		ctx := context.Background()
		_, startErr := s.Controller.ReplayFromEntry(ctx, view.DeadLetterEntry, runID, ports, req.PrincipalID, req.TenantID, req.RequesterID)
		s.Bridge.Detach(runID)
		if markErr := s.DLQAdmin.MarkReprocessed(ctx, id, startErr == nil); markErr != nil {
			slog.Error("dlq mark reprocessed failed", "dlq_id", id, "error", markErr)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "dlq_id": id, "status": "reprocessing"})
}
