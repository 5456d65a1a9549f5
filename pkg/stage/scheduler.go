package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

// RunStatus is the outcome of one Scheduler.Run call — the same terminal
// vocabulary the Run Controller writes to pipeline_runs.status.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Result is what the Scheduler reports back to the Run Controller after
// walking every stratum (or stopping early on fail/cancel).
type Result struct {
	Status      RunStatus
	Outputs     map[string]models.StageOutput
	Durations   map[string]time.Duration
	FailedStage string
	Err         error
}

// Scheduler walks a Graph's strata level by level, running every stage
// in a stratum concurrently, interpreting each Stage Output per spec
// §4.6, and stopping the whole run on the first fail or on cancellation.
type Scheduler struct {
	sink eventEmitter
}

// NewScheduler creates a Scheduler that emits stage lifecycle events
// through sink.
func NewScheduler(sink eventEmitter) *Scheduler {
	return &Scheduler{sink: sink}
}

// Run executes graph's strata for one pipeline run.
func (s *Scheduler) Run(ctx context.Context, rc events.RunContext, snapshot *models.ContextSnapshot, ports *PortBundle, graph *Graph, cancel CancelProbe) Result {
	ctx, runSpan := telemetry.StartRunSpan(ctx, rc.RunID, snapshot.Topology, snapshot.Channel)
	result := s.run(ctx, rc, snapshot, ports, graph, cancel)
	var spanErr error
	if result.Status == RunFailed {
		spanErr = result.Err
	}
	telemetry.EndSpan(runSpan, spanErr)
	return result
}

func (s *Scheduler) run(ctx context.Context, rc events.RunContext, snapshot *models.ContextSnapshot, ports *PortBundle, graph *Graph, cancel CancelProbe) Result {
	outputs := make(map[string]models.StageOutput)
	durations := make(map[string]time.Duration)
	var mu sync.Mutex // guards outputs/durations across a stratum's concurrent goroutines

	for _, stratum := range graph.Strata() {
		if cancel != nil && cancel.Canceled() {
			return Result{Status: RunCanceled, Outputs: outputs, Durations: durations}
		}

		group, groupCtx := errgroup.WithContext(ctx)
		var failedStage string
		var failErr error
		var failMu sync.Mutex

		for _, name := range stratum {
			name := name
			group.Go(func() error {
				spec, _ := graph.Spec(name)
				st, _ := graph.Stage(name)

				mu.Lock()
				depOutputs := snapshotOutputs(outputs)
				mu.Unlock()

				started := time.Now()
				out := s.runOne(groupCtx, rc, snapshot, ports, cancel, spec, st, depOutputs)
				elapsed := time.Since(started)

				mu.Lock()
				outputs[name] = out
				durations[name] = elapsed
				mu.Unlock()

				if out.Status == models.StageFail {
					failMu.Lock()
					if failedStage == "" {
						failedStage = name
						failErr = out.Error
					}
					failMu.Unlock()
					return fmt.Errorf("stage %s failed: %w", name, out.Error)
				}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return Result{Status: RunFailed, Outputs: outputs, Durations: durations, FailedStage: failedStage, Err: failErr}
		}
	}

	if cancel != nil && cancel.Canceled() {
		return Result{Status: RunCanceled, Outputs: outputs, Durations: durations}
	}
	return Result{Status: RunCompleted, Outputs: outputs, Durations: durations}
}

// runOne builds the Stage Inputs view for one stage invocation, resolves
// conditional skipping, checks cancellation, invokes the stage, and
// emits stage.started/stage.completed/stage.failed.
func (s *Scheduler) runOne(ctx context.Context, rc events.RunContext, snapshot *models.ContextSnapshot, ports *PortBundle, cancel CancelProbe, spec config.StageSpec, st Stage, depOutputs map[string]models.StageOutput) models.StageOutput {
	if cancel != nil && cancel.Canceled() {
		return s.recordSkip(ctx, rc, spec.Name, "canceled")
	}

	if spec.Conditional {
		if skip, reason := shouldSkip(spec, depOutputs); skip {
			return s.recordSkip(ctx, rc, spec.Name, reason)
		}
	}

	in := NewInputs(snapshot, ports, depOutputs, rc, s.sink, cancel)
	s.emitStarted(ctx, rc, spec.Name)

	stageCtx, stageSpan := telemetry.StartStageSpan(ctx, spec.Name)
	out := st.Execute(stageCtx, in)
	var spanErr error
	if out.Status == models.StageFail {
		spanErr = out.Error
	}
	telemetry.EndSpan(stageSpan, spanErr)

	switch out.Status {
	case models.StageFail:
		s.emitFailed(ctx, rc, spec.Name, out)
	default:
		s.emitCompleted(ctx, rc, spec.Name, out)
	}
	return out
}

// shouldSkip implements the conditional-skip rule (spec §4.6): a
// conditional stage is skipped either because its dependency chain
// passes through an upstream skip, or because its declared predicate —
// ConditionField read off one of its direct dependencies' outputs — is
// truthy.
func shouldSkip(spec config.StageSpec, depOutputs map[string]models.StageOutput) (bool, string) {
	for _, dep := range spec.DependsOn {
		out, ok := depOutputs[dep]
		if !ok {
			continue
		}
		if out.Status == models.StageSkip {
			return true, "upstream_skip"
		}
		if spec.ConditionField == "" {
			continue
		}
		if v, ok := ConditionValue(out, spec.ConditionField); ok && truthy(v) {
			return true, "condition_true"
		}
	}
	return false, ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	default:
		return false
	}
}

func (s *Scheduler) recordSkip(ctx context.Context, rc events.RunContext, name, reason string) models.StageOutput {
	s.emitStarted(ctx, rc, name)
	out := models.Skip(reason)
	s.emitCompleted(ctx, rc, name, out)
	return out
}

func (s *Scheduler) emitStarted(ctx context.Context, rc events.RunContext, name string) {
	if s.sink == nil {
		return
	}
	s.sink.EmitFireAndForget(rc, models.EventStageStarted, map[string]any{"stage": name})
}

func (s *Scheduler) emitCompleted(ctx context.Context, rc events.RunContext, name string, out models.StageOutput) {
	if s.sink == nil {
		return
	}
	s.sink.EmitFireAndForget(rc, models.EventStageCompleted, map[string]any{"stage": name, "status": out.Status, "reason": out.Reason})
}

func (s *Scheduler) emitFailed(ctx context.Context, rc events.RunContext, name string, out models.StageOutput) {
	if s.sink == nil {
		return
	}
	msg := ""
	if out.Error != nil {
		msg = out.Error.Error()
	}
	_ = s.sink.EmitDurable(ctx, rc, models.EventStageFailed, map[string]any{"stage": name, "error": msg})
}

func snapshotOutputs(outputs map[string]models.StageOutput) map[string]models.StageOutput {
	copied := make(map[string]models.StageOutput, len(outputs))
	for k, v := range outputs {
		copied[k] = v
	}
	return copied
}
