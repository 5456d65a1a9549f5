// Package applier implements the Agent Output Applier (spec §4.10):
// evaluates the pre_action and pre_persist policy checkpoints against an
// agent's produced plan, enforces the pre_persist size caps, and
// persists accepted actions and artifacts atomically.
package applier

import (
	"context"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/policy"
)

// store is the subset of *services.ArtifactService the applier needs.
type store interface {
	ApplyAccepted(ctx context.Context, runID string, actions []models.AgentAction, artifacts []models.AgentArtifact) error
}

// eventEmitter is the subset of *events.Sink the applier needs.
type eventEmitter interface {
	EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error
}

// Applier evaluates and applies one agent output at a time.
type Applier struct {
	policies *policy.Registry
	store    store
	sink     eventEmitter
}

// New creates an Applier backed by a real policy Registry (cheap to
// construct from an in-memory config.PolicyRegistry, so tests use the
// genuine evaluation path rather than a fake).
func New(policies *policy.Registry, store store, sink eventEmitter) *Applier {
	return &Applier{policies: policies, store: store, sink: sink}
}

// Apply evaluates every action against pre_action and every artifact
// against pre_persist, drops anything blocked, enforces the pre_persist
// policy's size caps across the surviving artifacts, and persists
// whatever remains atomically (spec §4.10, steps 1-4).
func (a *Applier) Apply(ctx context.Context, pctx policy.Context, output models.AgentOutput) (models.AppliedOutput, error) {
	acceptedActions, err := a.filterActions(ctx, pctx, output.Actions)
	if err != nil {
		return models.AppliedOutput{}, err
	}

	acceptedArtifacts, policyName, err := a.filterArtifacts(ctx, pctx, output.Artifacts)
	if err != nil {
		return models.AppliedOutput{}, err
	}

	if reason := a.capViolation(policyName, acceptedArtifacts); reason != "" {
		a.emitRejected(ctx, pctx, reason, len(acceptedArtifacts))
		return models.AppliedOutput{RejectedReason: reason}, nil
	}

	if err := a.store.ApplyAccepted(ctx, pctx.RunID, acceptedActions, acceptedArtifacts); err != nil {
		return models.AppliedOutput{}, fmt.Errorf("applier: persist accepted output: %w", err)
	}

	return models.AppliedOutput{AcceptedActions: acceptedActions, AcceptedArtifacts: acceptedArtifacts}, nil
}

func (a *Applier) filterActions(ctx context.Context, pctx policy.Context, actions []models.AgentAction) ([]models.AgentAction, error) {
	accepted := make([]models.AgentAction, 0, len(actions))
	for _, act := range actions {
		result, err := a.policies.Evaluate(ctx, config.CheckpointPreAction, withIntent(pctx, act.Kind))
		if err != nil {
			return nil, fmt.Errorf("applier: evaluate pre_action: %w", err)
		}
		if result.Decision == config.DecisionBlock {
			continue
		}
		accepted = append(accepted, act)
	}
	return accepted, nil
}

// filterArtifacts evaluates pre_persist per artifact and returns the
// surviving artifacts plus the name of the policy that last decided —
// needed afterward to look up that policy's caps, since caps are a
// property of the policy configuration, not of any one artifact.
func (a *Applier) filterArtifacts(ctx context.Context, pctx policy.Context, artifacts []models.AgentArtifact) ([]models.AgentArtifact, string, error) {
	accepted := make([]models.AgentArtifact, 0, len(artifacts))
	policyName := ""
	for _, art := range artifacts {
		result, err := a.policies.Evaluate(ctx, config.CheckpointPrePersist, withIntent(pctx, art.Kind))
		if err != nil {
			return nil, "", fmt.Errorf("applier: evaluate pre_persist: %w", err)
		}
		policyName = result.Policy
		if result.Decision == config.DecisionBlock {
			continue
		}
		accepted = append(accepted, art)
	}
	return accepted, policyName, nil
}

// capViolation applies the pre_persist policy's size caps (spec §4.10
// step 3): exceeding max_artifacts or any single artifact exceeding
// max_artifact_payload_bytes drops the whole artifact set, not just the
// offending item (spec §8 "Exceeding max_artifacts drops all artifacts
// from that agent output").
func (a *Applier) capViolation(policyName string, artifacts []models.AgentArtifact) string {
	if policyName == "" || len(artifacts) == 0 {
		return ""
	}
	caps := a.policies.CapsFor(policyName)
	if caps == nil {
		return ""
	}
	if caps.MaxArtifacts > 0 && len(artifacts) > caps.MaxArtifacts {
		return "max_artifacts_exceeded"
	}
	if caps.MaxArtifactPayloadBytes > 0 {
		for _, art := range artifacts {
			if len(art.Payload) > caps.MaxArtifactPayloadBytes {
				return "max_artifact_payload_bytes_exceeded"
			}
		}
	}
	return ""
}

func (a *Applier) emitRejected(ctx context.Context, pctx policy.Context, reason string, artifactCount int) {
	if a.sink == nil {
		return
	}
	rc := events.RunContext{RunID: pctx.RunID, RequestID: pctx.RequestID, SessionID: pctx.SessionID, PrincipalID: pctx.PrincipalID, TenantID: pctx.TenantID}
	_ = a.sink.EmitDurable(ctx, rc, models.EventAgentOutputRejected, map[string]any{"reason": reason, "artifact_count": artifactCount})
}

func withIntent(pctx policy.Context, intent string) policy.Context {
	pctx.Intent = intent
	return pctx
}
