package pipelines

import (
	"context"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/applier"
	"github.com/pipelinekit/orchestrator/pkg/config"
	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/pipelinekit/orchestrator/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArtifactStore struct {
	applied   bool
	runID     string
	artifacts []models.AgentArtifact
}

func (f *fakeArtifactStore) ApplyAccepted(ctx context.Context, runID string, actions []models.AgentAction, artifacts []models.AgentArtifact) error {
	f.applied = true
	f.runID = runID
	f.artifacts = artifacts
	return nil
}

func testPersistPorts(store *fakeArtifactStore, policies map[string]*config.PolicyConfig) *stage.PortBundle {
	a := applier.New(testPolicies(policies), store, nil)
	return &stage.PortBundle{
		Extra: map[string]any{ExtraApplier: a},
	}
}

func TestPersistStagePersistsReplyAsArtifact(t *testing.T) {
	store := &fakeArtifactStore{}
	ports := testPersistPorts(store, nil)
	sends := &recordedSends{}
	ports.Send = sends.funcs()

	st, err := NewPersistStage(ports)
	require.NoError(t, err)

	upstream := map[string]models.StageOutput{"llm_stream": models.OK(map[string]any{"text": "final reply"})}
	in := newTestInputs(testSnapshot(), ports, upstream, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	require.Equal(t, models.StageOK, out.Status)
	assert.True(t, store.applied)
	assert.Equal(t, "run-1", store.runID)
	require.Len(t, store.artifacts, 1)
	assert.Equal(t, "final reply", string(store.artifacts[0].Payload))
	require.Len(t, sends.statuses, 1)
}

func TestPersistStageFailsWithoutUpstreamReply(t *testing.T) {
	store := &fakeArtifactStore{}
	ports := testPersistPorts(store, nil)
	ports.Send = (&recordedSends{}).funcs()

	st, err := NewPersistStage(ports)
	require.NoError(t, err)

	in := newTestInputs(testSnapshot(), ports, nil, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	assert.Equal(t, models.StageFail, out.Status)
	assert.False(t, store.applied)
}

func TestPersistStageReportsCapViolationWithoutPersisting(t *testing.T) {
	store := &fakeArtifactStore{}
	ports := testPersistPorts(store, map[string]*config.PolicyConfig{
		"strict-persist": {Checkpoint: config.CheckpointPrePersist, Caps: &config.SizeCaps{MaxArtifacts: 10, MaxArtifactPayloadBytes: 4}},
	})
	ports.Send = (&recordedSends{}).funcs()

	st, err := NewPersistStage(ports)
	require.NoError(t, err)

	upstream := map[string]models.StageOutput{"llm_stream": models.OK(map[string]any{"text": "final reply"})}
	in := newTestInputs(testSnapshot(), ports, upstream, &fakeEmitter{})
	out := st.Execute(context.Background(), in)

	require.Equal(t, models.StageOK, out.Status)
	assert.False(t, store.applied)
	assert.NotEmpty(t, out.Results["rejected_reason"])
}
