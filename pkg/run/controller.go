package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pipelinekit/orchestrator/pkg/cancel"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/dlq"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/services"
	"github.com/pipelinekit/orchestrator/pkg/stage"
)

// runStore is the subset of *services.RunService the controller needs,
// narrowed to an interface so tests substitute a fake instead of a
// database.
type runStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	SetRunning(ctx context.Context, runID string) error
	UpdateTerminal(ctx context.Context, runID string, status models.RunStatus, success bool, runErr string, aggregates services.RunAggregates) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// dlqStore is the subset of *services.DLQService the controller needs to
// capture a failed run.
type dlqStore interface {
	Capture(ctx context.Context, entry *models.DeadLetterEntry) error
}

// eventSink is the subset of *events.Sink the controller needs.
type eventSink interface {
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
	EmitFireAndForget(rc events.RunContext, eventType string, data any)
	CloseRun(runID string)
}

// Controller is the Run Controller (spec §4.7).
type Controller struct {
	runs      runStore
	dlqStore  dlqStore
	agg       *aggregator
	pipelines *config.PipelineRegistry
	stages    *stage.Registry
	cancels   *cancel.Registry
	sink      eventSink
	scheduler *stage.Scheduler
}

// NewController wires a Controller from its collaborators.
func NewController(
	runs runStore,
	dlqStore dlqStore,
	eventsSvc eventLister,
	calls callLister,
	pipelines *config.PipelineRegistry,
	stages *stage.Registry,
	cancels *cancel.Registry,
	sink eventSink,
) *Controller {
	return &Controller{
		runs:      runs,
		dlqStore:  dlqStore,
		agg:       &aggregator{events: eventsSvc, calls: calls},
		pipelines: pipelines,
		stages:    stages,
		cancels:   cancels,
		sink:      sink,
		scheduler: stage.NewScheduler(sink),
	}
}

// Start runs one pipeline end to end per spec §4.7's ten steps, and
// returns the Scheduler's Result alongside any error encountered before
// the scheduler could even be reached. An unknown topology or a malformed
// stage graph is itself a failure outcome, already written to the run row
// and the dead-letter queue by the time Start returns; a request that fails
// validation is rejected before any run row exists and is not persisted.
func (c *Controller) Start(ctx context.Context, req Request) (stage.Result, error) {
	if err := req.validateRequest(); err != nil {
		return stage.Result{}, fmt.Errorf("run: invalid request: %w", err)
	}

	runID := req.RunID
	if runID != "" {
		if existing, err := c.runs.GetRun(ctx, runID); err == nil {
			if existing.Status.Terminal() {
				return terminalResultFrom(existing), nil
			}
		} else if !errors.Is(err, kernelerrors.ErrNotFound) {
			return stage.Result{}, fmt.Errorf("run: idempotency lookup: %w", err)
		}
	} else {
		runID = services.NewRunID()
	}

	rc := events.RunContext{
		RunID: runID, RequestID: req.RequestID, SessionID: req.SessionID,
		PrincipalID: req.PrincipalID, TenantID: req.TenantID,
	}

	pipelineCfg, err := c.pipelines.Get(req.Topology)
	if err != nil {
		return c.failBeforeScheduling(ctx, rc, runID, req, err)
	}

	runRow := &models.Run{
		ID: runID, Service: req.Service, RequesterID: req.RequesterID,
		PrincipalID: req.PrincipalID, TenantID: req.TenantID,
		Topology: req.Topology, Mode: string(pipelineCfg.Mode), QualityMode: string(pipelineCfg.Mode),
		Status: models.RunStatusCreated, RequestID: req.RequestID, SessionID: req.SessionID,
	}
	if err := c.runs.CreateRun(ctx, runRow); err != nil {
		return stage.Result{}, fmt.Errorf("run: create run row: %w", err)
	}
	if err := c.sink.EmitDurable(ctx, rc, models.EventPipelineCreated, map[string]any{"topology": req.Topology}); err != nil {
		slog.Error("run: emit pipeline.created failed", append(rc.LogAttrs(), "error", err)...)
	}

	handle := c.cancels.Register(runID)
	defer c.cancels.Release(runID)
	defer c.sink.CloseRun(runID)

	graph, err := stage.Build(pipelineCfg.Stages, c.stages, req.Ports)
	if err != nil {
		return c.failAfterCreate(ctx, rc, runID, req, string(pipelineCfg.Mode), nil, "", err)
	}

	snapshot := req.snapshot(runID)

	if err := c.sink.EmitDurable(ctx, rc, models.EventPipelineStarted, nil); err != nil {
		slog.Error("run: emit pipeline.started failed", append(rc.LogAttrs(), "error", err)...)
	}
	if err := c.runs.SetRunning(ctx, runID); err != nil {
		return c.failAfterCreate(ctx, rc, runID, req, string(pipelineCfg.Mode), nil, "", err)
	}

	if pipelineCfg.Deadline > 0 {
		timer := time.AfterFunc(pipelineCfg.Deadline, func() {
			if _, err := c.cancels.RequestCancel(context.Background(), runID, "deadline_exceeded"); err != nil {
				slog.Error("run: deadline cancel broadcast failed", "run_id", runID, "error", err)
			}
		})
		defer timer.Stop()
	}

	result := c.scheduler.Run(ctx, rc, snapshot, req.Ports, graph, handle)
	status, success, errMsg := classify(result, handle)

	agg, err := c.agg.compute(ctx, runID, result)
	if err != nil {
		slog.Error("run: compute aggregates failed", append(rc.LogAttrs(), "error", err)...)
	}
	if err := c.runs.UpdateTerminal(ctx, runID, status, success, errMsg, agg); err != nil {
		slog.Error("run: update terminal row failed", append(rc.LogAttrs(), "error", err)...)
	}

	terminalEvent := models.EventPipelineCompleted
	switch status {
	case models.RunStatusFailed:
		terminalEvent = models.EventPipelineFailed
	case models.RunStatusCanceled:
		terminalEvent = models.EventPipelineCanceled
	}
	if err := c.sink.EmitDurable(ctx, rc, terminalEvent, map[string]any{"success": success, "error": errMsg}); err != nil {
		slog.Error("run: emit terminal event failed", append(rc.LogAttrs(), "error", err)...)
	}

	if status == models.RunStatusFailed {
		c.captureDLQ(ctx, req, runID, string(pipelineCfg.Mode), errMsg, result.FailedStage, snapshot)
	}

	c.pushTerminalFrame(req, status, errMsg, result)

	return result, nil
}

// pushTerminalFrame delivers the run's one client-facing terminal signal
// over the Streaming Bridge (spec §4.7 step 9, §6, §7, §8 scenarios 1-3):
// a chat.complete/voice.complete frame carrying the final assistant
// content on success, a stable-coded error frame on failure, and nothing
// beyond the ordinary pipeline.canceled status — a cancellation is not an
// error, so no chat.complete and no error frame, only the ordinary
// status.update already reachable through the Event Sink's NOTIFY path.
// Every branch is best-effort: a stage never populated Send (tests,
// replay without a live connection) leaves these nil.
func (c *Controller) pushTerminalFrame(req Request, status models.RunStatus, errMsg string, result stage.Result) {
	switch status {
	case models.RunStatusCompleted:
		if req.Ports == nil || req.Ports.Send.SendComplete == nil {
			return
		}
		req.Ports.Send.SendComplete(finalContent(result), map[string]any{"topology": req.Topology})
	case models.RunStatusFailed:
		if req.Ports == nil || req.Ports.Send.SendError == nil {
			return
		}
		req.Ports.Send.SendError("pipeline_failed", errMsg)
	}
}

// finalContent extracts the assistant's final text from whichever stage
// produced it (llm_stream generates it; persist may have rewritten
// nothing, so its input is still the run's output) — llm_stream is the
// one stage every topology runs, so it is always present on a completed
// run.
func finalContent(result stage.Result) string {
	if out, ok := result.Outputs["llm_stream"]; ok {
		if text, ok := out.Results["text"].(string); ok {
			return text
		}
	}
	return ""
}

// failBeforeScheduling handles a Start failure that happens before a run
// row even exists (an unknown topology). It still creates the row —
// terminal and failed — so the request leaves a trail, and still
// captures a dead-letter entry, matching the ordinary failure path.
func (c *Controller) failBeforeScheduling(ctx context.Context, rc events.RunContext, runID string, req Request, cause error) (stage.Result, error) {
	runRow := &models.Run{
		ID: runID, Service: req.Service, RequesterID: req.RequesterID,
		PrincipalID: req.PrincipalID, TenantID: req.TenantID,
		Topology: req.Topology, Status: models.RunStatusFailed, Error: cause.Error(),
		RequestID: req.RequestID, SessionID: req.SessionID,
	}
	if err := c.runs.CreateRun(ctx, runRow); err != nil {
		return stage.Result{}, fmt.Errorf("run: create failed run row: %w", err)
	}
	if err := c.runs.UpdateTerminal(ctx, runID, models.RunStatusFailed, false, cause.Error(), services.RunAggregates{}); err != nil {
		slog.Error("run: update terminal row failed", "run_id", runID, "error", err)
	}
	if err := c.sink.EmitDurable(ctx, rc, models.EventPipelineFailed, map[string]any{"error": cause.Error()}); err != nil {
		slog.Error("run: emit pipeline.failed failed", "run_id", runID, "error", err)
	}
	snapshot := req.snapshot(runID)
	c.captureDLQ(ctx, req, runID, "", cause.Error(), "", snapshot)
	return stage.Result{Status: stage.RunFailed, Err: cause}, fmt.Errorf("run: resolve pipeline: %w", cause)
}

// failAfterCreate handles a Start failure after the run row exists but
// before (or instead of) running the scheduler — an unbuildable stage
// graph, or a persistence error flipping the row to running.
func (c *Controller) failAfterCreate(ctx context.Context, rc events.RunContext, runID string, req Request, mode string, _ *stage.Graph, failedStage string, cause error) (stage.Result, error) {
	if err := c.runs.UpdateTerminal(ctx, runID, models.RunStatusFailed, false, cause.Error(), services.RunAggregates{}); err != nil {
		slog.Error("run: update terminal row failed", "run_id", runID, "error", err)
	}
	if err := c.sink.EmitDurable(ctx, rc, models.EventPipelineFailed, map[string]any{"error": cause.Error()}); err != nil {
		slog.Error("run: emit pipeline.failed failed", "run_id", runID, "error", err)
	}
	snapshot := req.snapshot(runID)
	c.captureDLQ(ctx, req, runID, mode, cause.Error(), failedStage, snapshot)
	return stage.Result{Status: stage.RunFailed, FailedStage: failedStage, Err: cause}, fmt.Errorf("run: %w", cause)
}

// captureDLQ writes a dead-letter entry for a failed run (spec §4.11).
func (c *Controller) captureDLQ(ctx context.Context, req Request, runID, mode, errMsg, failedStage string, snapshot *models.ContextSnapshot) {
	snapBytes, err := dlq.EncodeSnapshot(snapshot)
	if err != nil {
		slog.Error("run: encode dlq snapshot failed", "run_id", runID, "error", err)
		return
	}
	inputBytes, err := dlq.EncodeInput(dlq.ReplayInput{
		Topology: req.Topology, Mode: mode, Channel: req.Channel,
		InputText: req.InputText, AudioBytes: req.AudioBytes, Messages: req.Messages,
	})
	if err != nil {
		slog.Error("run: encode dlq input failed", "run_id", runID, "error", err)
		return
	}

	entry := &models.DeadLetterEntry{
		ID: uuid.NewString(), RunID: runID, Service: req.Service,
		ErrorType: "pipeline_failed", ErrorMessage: errMsg, FailedStage: failedStage,
		ContextSnapshot: snapBytes, InputData: inputBytes, Status: models.DLQStatusPending,
	}
	if err := c.dlqStore.Capture(ctx, entry); err != nil {
		slog.Error("run: capture dlq entry failed", "run_id", runID, "error", err)
	}
}

// classify maps a Scheduler Result (plus the handle's own cancellation
// state, since the scheduler's last check happens between strata and may
// race a cancel flipped during the final stage) to the Run row's
// terminal vocabulary.
func classify(result stage.Result, handle *cancel.Handle) (models.RunStatus, bool, string) {
	if result.Status == stage.RunCanceled || (handle != nil && handle.Canceled() && result.Status != stage.RunCompleted) {
		reason := "canceled"
		if handle != nil && handle.Reason() != "" {
			reason = handle.Reason()
		}
		return models.RunStatusCanceled, false, reason
	}
	switch result.Status {
	case stage.RunCompleted:
		return models.RunStatusCompleted, true, ""
	default:
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		return models.RunStatusFailed, false, errMsg
	}
}

// terminalResultFrom converts a previously-completed run row into the
// Result Start returns for a repeated idempotent call (spec §4.7
// "Idempotency").
func terminalResultFrom(run *models.Run) stage.Result {
	status := stage.RunCompleted
	switch run.Status {
	case models.RunStatusFailed:
		status = stage.RunFailed
	case models.RunStatusCanceled:
		status = stage.RunCanceled
	}
	var err error
	if run.Error != "" {
		err = errors.New(run.Error)
	}
	return stage.Result{Status: status, Err: err}
}
