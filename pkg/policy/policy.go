// Package policy implements the Policy/Guardrails Registry (spec §4.3):
// named policies keyed on a checkpoint tag, each returning an allow/block
// decision with a reason, with forced-decision overrides for tests and
// operational kill-switches.
package policy

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// Context carries everything a policy needs to reach a decision (spec
// §4.3: "run id, principal, tenant, service, intent, and a small excerpt
// of the input under consideration"). It is validated on every Evaluate
// call rather than trusted, since it is built from request-scoped data
// that ultimately originates outside the kernel.
type Context struct {
	RunID        string `validate:"required"`
	RequestID    string
	SessionID    string
	PrincipalID  string
	TenantID     string
	Service      string `validate:"required"`
	Intent       string
	InputExcerpt string
}

func (c Context) toRunContext() events.RunContext {
	return events.RunContext{
		RunID: c.RunID, RequestID: c.RequestID, SessionID: c.SessionID,
		PrincipalID: c.PrincipalID, TenantID: c.TenantID,
	}
}

// Result is the outcome of evaluating every policy registered against a
// checkpoint.
type Result struct {
	Decision config.Decision
	Reason   string
	Policy   string // name of the policy that produced the decision
}

// eventEmitter is the subset of *events.Sink Evaluate needs.
type eventEmitter interface {
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
}

var validate = validator.New()

// Registry layers runtime evaluation over a config.PolicyRegistry: it
// walks the policies registered for a checkpoint, applies forced
// decisions, emits policy.decision/policy.blocked events, and keeps
// per-(policy, checkpoint) counters for an admin status surface.
type Registry struct {
	cfg   *config.PolicyRegistry
	sink  eventEmitter
	stats *Stats

	byCheckpoint map[config.Checkpoint][]namedPolicy
}

type namedPolicy struct {
	name string
	cfg  *config.PolicyConfig
}

// New creates a Registry backed by cfg, emitting decision/block events
// through sink. The checkpoint index is built once here so every
// Evaluate call knows each matching policy's configured name, which
// config.PolicyRegistry.ByCheckpoint alone does not preserve.
func New(cfg *config.PolicyRegistry, sink eventEmitter) *Registry {
	r := &Registry{cfg: cfg, sink: sink, stats: newStats(), byCheckpoint: make(map[config.Checkpoint][]namedPolicy)}
	for name, p := range cfg.GetAll() {
		r.byCheckpoint[p.Checkpoint] = append(r.byCheckpoint[p.Checkpoint], namedPolicy{name: name, cfg: p})
	}
	return r
}

// Evaluate runs every policy registered against checkpoint and returns
// the first block it encounters, or allow if none blocks. A checkpoint
// with no registered policies allows by default — absence of a policy is
// not itself a guardrail failure.
func (r *Registry) Evaluate(ctx context.Context, checkpoint config.Checkpoint, pctx Context) (Result, error) {
	if err := validate.Struct(pctx); err != nil {
		return Result{}, fmt.Errorf("policy context: %w", err)
	}

	result := Result{Decision: config.DecisionAllow, Reason: "no_policy_registered"}

	for _, np := range r.byCheckpoint[checkpoint] {
		decision, reason := evaluateOne(np.cfg)
		r.stats.record(checkpointKey(checkpoint, np.name), decision)
		r.emit(ctx, checkpoint, pctx, decision, reason, np.name)

		if decision == config.DecisionBlock {
			return Result{Decision: decision, Reason: reason, Policy: np.name}, nil
		}
		result = Result{Decision: decision, Reason: reason, Policy: np.name}
	}

	return result, nil
}

// evaluateOne is the single-policy decision function (spec §4.3's
// "evaluate(checkpoint, context) → (decision, reason)"). Today the only
// rule beyond the forced-decision override is default-allow — the
// registry exists to be configured with real guardrail rules without
// kernel code changes, not to hardcode content moderation logic.
func evaluateOne(p *config.PolicyConfig) (config.Decision, string) {
	if p.ForceDecision != nil {
		reason := "forced"
		return *p.ForceDecision, reason
	}
	return config.DecisionAllow, "default_allow"
}

func (r *Registry) emit(ctx context.Context, checkpoint config.Checkpoint, pctx Context, decision config.Decision, reason, policyName string) {
	if r.sink == nil {
		return
	}
	data := map[string]any{
		"checkpoint": checkpoint, "decision": decision, "reason": reason,
		"policy": policyName, "service": pctx.Service, "intent": pctx.Intent,
		"input_excerpt": pctx.InputExcerpt,
	}
	_ = r.sink.EmitDurable(ctx, pctx.toRunContext(), models.EventPolicyDecision, data)

	if decision != config.DecisionBlock {
		return
	}
	blockEventType := models.EventPolicyBlocked
	if checkpoint == config.CheckpointPreAction {
		blockEventType = models.EventPolicyEscalationDenied
	}
	_ = r.sink.EmitDurable(ctx, pctx.toRunContext(), blockEventType, data)
}

// CapsFor returns the size caps configured for the named policy, or nil
// if the policy has none (or isn't a pre_persist policy — Caps only
// applies there, enforced by config.Validator at load time).
func (r *Registry) CapsFor(policyName string) *config.SizeCaps {
	p, err := r.cfg.Get(policyName)
	if err != nil {
		return nil
	}
	return p.Caps
}

// Stats returns a point-in-time snapshot of evaluation counters.
func (r *Registry) Stats() map[string]CounterSnapshot {
	return r.stats.snapshot()
}

func checkpointKey(checkpoint config.Checkpoint, name string) string {
	return string(checkpoint) + ":" + name
}
