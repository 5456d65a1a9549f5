// Package stage implements the orchestration kernel's Stage contract,
// Stage Registry with port injection, the Unified Stage Graph/Scheduler,
// and the Context Snapshot/Stage Inputs view (spec §4.4-§4.7). Pipeline
// Definitions and their composition live in pkg/config.
package stage

import (
	"context"

	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// Stage is the kernel's stage contract (spec §6: "execute(ctx) → Output").
// Implementations are built once per run by a Factory and invoked exactly
// once by the Scheduler.
type Stage interface {
	// Name returns the stage's registry name, for logging and event data.
	Name() string
	// Execute runs the stage to completion or until ctx is canceled. The
	// Scheduler has already checked the run's cancellation handle before
	// calling this; a long-running stage must re-check in.Canceled() at
	// its own internal suspension points.
	Execute(ctx context.Context, in Inputs) models.StageOutput
}

// CancelProbe reports whether a run has been asked to cancel. Defined
// here rather than imported from pkg/cancel so the scheduler depends on
// the capability, not the registry that implements it — pkg/cancel's
// Handle satisfies this interface.
type CancelProbe interface {
	Canceled() bool
}

// Inputs is the Stage Inputs view: what a stage invocation sees (spec §3
// "Stage Inputs", spec §6 "ctx exposes: immutable snapshot, upstream
// outputs by name, injected ports, event emitter, cancellation probe").
// It is built fresh by the Scheduler for every stage invocation and is
// read-only — a stage that wants to carry state forward returns it in its
// own Stage Output, it never mutates the snapshot or another stage's
// recorded output.
type Inputs struct {
	Snapshot *models.ContextSnapshot
	Ports    *PortBundle

	outputs map[string]models.StageOutput
	rc      events.RunContext
	sink    eventEmitter
	cancel  CancelProbe
}

// eventEmitter is the subset of *events.Sink stages need, narrowed so
// stage implementations and tests never depend on the concrete Sink.
type eventEmitter interface {
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
	EmitFireAndForget(rc events.RunContext, eventType string, data any)
}

// NewInputs builds a Stage Inputs view. Used by the Scheduler; stage unit
// tests typically construct this directly too.
func NewInputs(snapshot *models.ContextSnapshot, ports *PortBundle, outputs map[string]models.StageOutput, rc events.RunContext, sink eventEmitter, cancel CancelProbe) Inputs {
	return Inputs{Snapshot: snapshot, Ports: ports, outputs: outputs, rc: rc, sink: sink, cancel: cancel}
}

// Upstream returns a completed upstream stage's output and whether it was
// found. A stage only has visibility into the stages it declared as
// dependencies — the Scheduler populates `outputs` with every stage that
// has completed so far in the run, but a well-behaved stage only reads
// the names its StageSpec.DependsOn lists.
func (in Inputs) Upstream(name string) (models.StageOutput, bool) {
	out, ok := in.outputs[name]
	return out, ok
}

// Canceled reports whether the run's Cancellation Handle has been
// flipped. Stages must check this at every internal suspension point
// (spec §5 "every provider call, DB I/O, queue read/write, and sleep is
// a suspension point").
func (in Inputs) Canceled() bool {
	return in.cancel != nil && in.cancel.Canceled()
}

// EmitDurable emits a durable event stamped with this run's ambient
// identifiers.
func (in Inputs) EmitDurable(ctx context.Context, eventType string, data any) error {
	if in.sink == nil {
		return nil
	}
	return in.sink.EmitDurable(ctx, in.rc, eventType, data)
}

// EmitFireAndForget emits a fire-and-forget event stamped with this
// run's ambient identifiers.
func (in Inputs) EmitFireAndForget(eventType string, data any) {
	if in.sink == nil {
		return
	}
	in.sink.EmitFireAndForget(in.rc, eventType, data)
}

// RunContext returns the ambient identifiers for this run.
func (in Inputs) RunContext() events.RunContext {
	return in.rc
}

// ConditionValue reads a field out of an upstream output's Results map,
// for a conditional stage's predicate evaluation (spec §4.6: "a field
// read from some upstream output, e.g. skip_assessment == true").
func ConditionValue(out models.StageOutput, field string) (any, bool) {
	if out.Results == nil {
		return nil, false
	}
	v, ok := out.Results[field]
	return v, ok
}
