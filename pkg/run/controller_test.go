package run

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/cancel"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/services"
	"github.com/pipelinekit/orchestrator/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes -----------------------------------------------------------

type fakeRunStore struct {
	rows       map[string]*models.Run
	createErr  error
	setRunErr  error
	lastUpdate services.RunAggregates
	lastStatus models.RunStatus
}

func newFakeRunStore() *fakeRunStore { return &fakeRunStore{rows: make(map[string]*models.Run)} }

func (f *fakeRunStore) CreateRun(ctx context.Context, run *models.Run) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *run
	f.rows[run.ID] = &cp
	return nil
}

func (f *fakeRunStore) SetRunning(ctx context.Context, runID string) error {
	if f.setRunErr != nil {
		return f.setRunErr
	}
	if row, ok := f.rows[runID]; ok {
		row.Status = models.RunStatusCreated
	}
	return nil
}

func (f *fakeRunStore) UpdateTerminal(ctx context.Context, runID string, status models.RunStatus, success bool, runErr string, agg services.RunAggregates) error {
	f.lastStatus = status
	f.lastUpdate = agg
	if row, ok := f.rows[runID]; ok {
		row.Status = status
		row.Success = success
		row.Error = runErr
	}
	return nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row, ok := f.rows[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, kernelerrors.ErrNotFound)
	}
	return row, nil
}

type fakeDLQStore struct {
	captured []*models.DeadLetterEntry
}

func (f *fakeDLQStore) Capture(ctx context.Context, entry *models.DeadLetterEntry) error {
	f.captured = append(f.captured, entry)
	return nil
}

type fakeSink struct {
	durable      []string
	fireForget   []string
	closedRunIDs []string
}

func (f *fakeSink) EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error {
	f.durable = append(f.durable, eventType)
	return nil
}

func (f *fakeSink) EmitFireAndForget(rc events.RunContext, eventType string, data any) {
	f.fireForget = append(f.fireForget, eventType)
}

func (f *fakeSink) CloseRun(runID string) {
	f.closedRunIDs = append(f.closedRunIDs, runID)
}

type fakeEventLister struct{}

func (fakeEventLister) ListByRun(ctx context.Context, runID string) ([]*models.Event, error) {
	return nil, nil
}

type fakeCallLister struct{}

func (fakeCallLister) ListByRun(ctx context.Context, runID string) ([]*models.ProviderCallRecord, error) {
	return nil, nil
}

// --- harness -----------------------------------------------------------

type stubStage struct {
	name string
	fn   func(ctx context.Context, in stage.Inputs) models.StageOutput
}

func (s *stubStage) Name() string { return s.name }
func (s *stubStage) Execute(ctx context.Context, in stage.Inputs) models.StageOutput {
	if s.fn != nil {
		return s.fn(ctx, in)
	}
	return models.OK(nil)
}

func newController(t *testing.T, runs *fakeRunStore, dlqStore *fakeDLQStore, sink *fakeSink, stageFn func(ctx context.Context, in stage.Inputs) models.StageOutput) *Controller {
	t.Helper()

	registry := stage.NewRegistry()
	registry.Register("only", config.StageKindWork, func(ports *stage.PortBundle) (stage.Stage, error) {
		return &stubStage{name: "only", fn: stageFn}, nil
	})

	pipelines := config.NewPipelineRegistry(map[string]*config.PipelineConfig{
		"chat_fast": {
			Topology: "chat_fast", Channel: config.ChannelChat, Mode: config.QualityModeFast,
			Stages: []config.StageSpec{{Name: "only", Kind: config.StageKindWork}},
		},
	})

	cancels := cancel.New(nil)

	return NewController(runs, dlqStore, fakeEventLister{}, fakeCallLister{}, pipelines, registry, cancels, sink)
}

func baseRequest() Request {
	return Request{
		Service: "chat-svc", PrincipalID: "principal-1", TenantID: "tenant-1",
		Topology: "chat_fast", Channel: "chat", InputText: "hello",
		Ports: &stage.PortBundle{},
	}
}

// --- tests -----------------------------------------------------------

func TestControllerStartCompletesRunAndSkipsDLQ(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, func(ctx context.Context, in stage.Inputs) models.StageOutput {
		return models.OK(map[string]any{"ok": true})
	})

	result, err := c.Start(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, stage.RunCompleted, result.Status)
	assert.Equal(t, models.RunStatusCompleted, runs.lastStatus)
	assert.Empty(t, dlqStore.captured, "a completed run must never be captured to the dead-letter queue")
	assert.Contains(t, sink.durable, models.EventPipelineCreated)
	assert.Contains(t, sink.durable, models.EventPipelineStarted)
	assert.Contains(t, sink.durable, models.EventPipelineCompleted)
}

func TestControllerStartCapturesDLQOnStageFailure(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, func(ctx context.Context, in stage.Inputs) models.StageOutput {
		return models.Fail(errors.New("boom"))
	})

	result, err := c.Start(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, stage.RunFailed, result.Status)
	assert.Equal(t, models.RunStatusFailed, runs.lastStatus)
	require.Len(t, dlqStore.captured, 1)
	assert.Equal(t, "only", dlqStore.captured[0].FailedStage)
	assert.Contains(t, sink.durable, models.EventPipelineFailed)
}

func TestControllerStartUnknownTopologyFailsBeforeScheduling(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, nil)

	req := baseRequest()
	req.Topology = "does_not_exist"

	result, err := c.Start(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, stage.RunFailed, result.Status)
	assert.Len(t, runs.rows, 1, "an unknown topology still leaves a failed run row behind")
	require.Len(t, dlqStore.captured, 1)
}

func TestControllerStartIsIdempotentForTerminalRun(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, func(ctx context.Context, in stage.Inputs) models.StageOutput {
		t.Fatal("a terminal run must not be re-executed")
		return models.StageOutput{}
	})

	runs.rows["run-1"] = &models.Run{ID: "run-1", Status: models.RunStatusCompleted}

	req := baseRequest()
	req.RunID = "run-1"

	result, err := c.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, stage.RunCompleted, result.Status)
	assert.Empty(t, sink.durable, "a short-circuited idempotent call emits nothing new")
}

func TestControllerStartPushesTerminalCompleteFrameOnSuccess(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}

	registry := stage.NewRegistry()
	registry.Register("llm_stream", config.StageKindWork, func(ports *stage.PortBundle) (stage.Stage, error) {
		return &stubStage{name: "llm_stream", fn: func(ctx context.Context, in stage.Inputs) models.StageOutput {
			return models.OK(map[string]any{"text": "final reply"})
		}}, nil
	})
	pipelines := config.NewPipelineRegistry(map[string]*config.PipelineConfig{
		"chat_fast": {
			Topology: "chat_fast", Channel: config.ChannelChat, Mode: config.QualityModeFast,
			Stages: []config.StageSpec{{Name: "llm_stream", Kind: config.StageKindWork}},
		},
	})
	c := NewController(runs, dlqStore, fakeEventLister{}, fakeCallLister{}, pipelines, registry, cancel.New(nil), sink)

	var completeContent string
	var completeMeta any
	req := baseRequest()
	req.Ports = &stage.PortBundle{Send: stage.SendFuncs{
		SendComplete: func(content string, metadata any) { completeContent, completeMeta = content, metadata },
		SendError:    func(code, message string) { t.Fatal("a completed run must never push an error frame") },
	}}

	result, err := c.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, stage.RunCompleted, result.Status)
	assert.Equal(t, "final reply", completeContent)
	assert.NotNil(t, completeMeta)
}

func TestControllerStartPushesErrorFrameOnFailureNeverComplete(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, func(ctx context.Context, in stage.Inputs) models.StageOutput {
		return models.Fail(errors.New("boom"))
	})

	var errCode, errMsg string
	req := baseRequest()
	req.Ports = &stage.PortBundle{Send: stage.SendFuncs{
		SendComplete: func(content string, metadata any) { t.Fatal("a failed run must never push a complete frame") },
		SendError:    func(code, message string) { errCode, errMsg = code, message },
	}}

	result, err := c.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, stage.RunFailed, result.Status)
	assert.Equal(t, "pipeline_failed", errCode)
	assert.Contains(t, errMsg, "boom")
}

func TestControllerStartRejectsInvalidRequest(t *testing.T) {
	runs := newFakeRunStore()
	dlqStore := &fakeDLQStore{}
	sink := &fakeSink{}
	c := newController(t, runs, dlqStore, sink, nil)

	req := baseRequest()
	req.Channel = "not-a-channel"

	_, err := c.Start(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, runs.rows, "an invalid request never creates a run row")
}
