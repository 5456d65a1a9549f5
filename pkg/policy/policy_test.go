package policy

import (
	"context"
	"sync"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/events"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) EmitDurable(ctx context.Context, rc events.RunContext, eventType string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func forceDecision(d config.Decision) *config.Decision { return &d }

func TestEvaluateDefaultsToAllowWhenNoPolicyRegistered(t *testing.T) {
	cfg := config.NewPolicyRegistry(nil)
	emitter := &fakeEmitter{}
	r := New(cfg, emitter)

	result, err := r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{RunID: "r1", Service: "chat"})

	require.NoError(t, err)
	assert.Equal(t, config.DecisionAllow, result.Decision)
	assert.Empty(t, emitter.events, "nothing to decide means no decision event")
}

func TestEvaluateAllowsByDefaultWhenRegistered(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"default": {Checkpoint: config.CheckpointPreLLM},
	})
	emitter := &fakeEmitter{}
	r := New(cfg, emitter)

	result, err := r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{RunID: "r1", Service: "chat"})

	require.NoError(t, err)
	assert.Equal(t, config.DecisionAllow, result.Decision)
	assert.Equal(t, "default_allow", result.Reason)
	assert.Contains(t, emitter.events, string(models.EventPolicyDecision))
	assert.NotContains(t, emitter.events, string(models.EventPolicyBlocked))
}

func TestEvaluateHonorsForcedBlock(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"kill-switch": {Checkpoint: config.CheckpointPreAction, ForceDecision: forceDecision(config.DecisionBlock)},
	})
	emitter := &fakeEmitter{}
	r := New(cfg, emitter)

	result, err := r.Evaluate(context.Background(), config.CheckpointPreAction, Context{RunID: "r1", Service: "chat"})

	require.NoError(t, err)
	assert.Equal(t, config.DecisionBlock, result.Decision)
	assert.Equal(t, "forced", result.Reason)
	// pre_action blocks emit the escalation-denied variant, not the
	// generic policy.blocked event.
	assert.Contains(t, emitter.events, string(models.EventPolicyEscalationDenied))
	assert.NotContains(t, emitter.events, string(models.EventPolicyBlocked))
}

func TestEvaluateEmitsGenericBlockedForNonActionCheckpoints(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"moderation": {Checkpoint: config.CheckpointPreLLM, ForceDecision: forceDecision(config.DecisionBlock)},
	})
	emitter := &fakeEmitter{}
	r := New(cfg, emitter)

	_, err := r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{RunID: "r1", Service: "chat"})

	require.NoError(t, err)
	assert.Contains(t, emitter.events, string(models.EventPolicyBlocked))
}

func TestEvaluateStopsAtFirstBlockAcrossMultiplePolicies(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"a": {Checkpoint: config.CheckpointPrePersist, ForceDecision: forceDecision(config.DecisionAllow)},
		"b": {Checkpoint: config.CheckpointPrePersist, ForceDecision: forceDecision(config.DecisionBlock)},
	})
	emitter := &fakeEmitter{}
	r := New(cfg, emitter)

	result, err := r.Evaluate(context.Background(), config.CheckpointPrePersist, Context{RunID: "r1", Service: "chat"})

	require.NoError(t, err)
	assert.Equal(t, config.DecisionBlock, result.Decision)
}

func TestEvaluateRejectsMissingRequiredFields(t *testing.T) {
	cfg := config.NewPolicyRegistry(nil)
	r := New(cfg, &fakeEmitter{})

	_, err := r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{})
	assert.Error(t, err)
}

func TestStatsTracksEvaluatedAndBlockedCounts(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"moderation": {Checkpoint: config.CheckpointPreLLM, ForceDecision: forceDecision(config.DecisionBlock)},
	})
	r := New(cfg, &fakeEmitter{})

	_, _ = r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{RunID: "r1", Service: "chat"})
	_, _ = r.Evaluate(context.Background(), config.CheckpointPreLLM, Context{RunID: "r2", Service: "chat"})

	snap := r.Stats()
	c, ok := snap[checkpointKey(config.CheckpointPreLLM, "moderation")]
	require.True(t, ok)
	assert.Equal(t, int64(2), c.Evaluated)
	assert.Equal(t, int64(2), c.Blocked)
}

func TestCapsForReturnsNilWhenPolicyHasNoCaps(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"default": {Checkpoint: config.CheckpointPreLLM},
	})
	r := New(cfg, &fakeEmitter{})
	assert.Nil(t, r.CapsFor("default"))
	assert.Nil(t, r.CapsFor("missing"))
}

func TestCapsForReturnsConfiguredCaps(t *testing.T) {
	cfg := config.NewPolicyRegistry(map[string]*config.PolicyConfig{
		"artifacts": {Checkpoint: config.CheckpointPrePersist, Caps: &config.SizeCaps{MaxArtifacts: 5, MaxArtifactPayloadBytes: 1024}},
	})
	r := New(cfg, &fakeEmitter{})
	caps := r.CapsFor("artifacts")
	require.NotNil(t, caps)
	assert.Equal(t, 5, caps.MaxArtifacts)
}
