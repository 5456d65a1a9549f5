package dlq

import (
	"context"
	"testing"

	"github.com/pipelinekit/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entries        map[string]*models.DeadLetterEntry
	resolvedID     string
	resolvedBy     string
	reprocessedID  string
	reprocessedOK  bool
	statsByErrType []models.DLQStatsByDimension
	statsByService []models.DLQStatsByDimension
}

func (f *fakeStore) Get(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, assert.AnError
	}
	return e, nil
}

func (f *fakeStore) List(ctx context.Context, status models.DLQStatus, limit int) ([]*models.DeadLetterEntry, error) {
	var out []*models.DeadLetterEntry
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	f.resolvedID = id
	f.resolvedBy = resolvedBy
	return nil
}

func (f *fakeStore) MarkReprocessed(ctx context.Context, id string, success bool) error {
	f.reprocessedID = id
	f.reprocessedOK = success
	return nil
}

func (f *fakeStore) StatsByErrorType(ctx context.Context) ([]models.DLQStatsByDimension, error) {
	return f.statsByErrType, nil
}

func (f *fakeStore) StatsByService(ctx context.Context) ([]models.DLQStatsByDimension, error) {
	return f.statsByService, nil
}

func TestInspectDecodesSnapshotAndInput(t *testing.T) {
	snapshot := &models.ContextSnapshot{RunID: "run-1", InputText: "hi"}
	snapBytes, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	inputBytes, err := EncodeInput(ReplayInput{Topology: "chat_fast"})
	require.NoError(t, err)

	store := &fakeStore{entries: map[string]*models.DeadLetterEntry{
		"dlq-1": {ID: "dlq-1", Status: models.DLQStatusPending, ContextSnapshot: snapBytes, InputData: inputBytes},
	}}
	admin := NewAdmin(store)

	view, err := admin.Inspect(context.Background(), "dlq-1")
	require.NoError(t, err)
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, "run-1", view.Snapshot.RunID)
	assert.Equal(t, "chat_fast", view.Input.Topology)
}

func TestInspectToleratesEmptyBinaryColumns(t *testing.T) {
	store := &fakeStore{entries: map[string]*models.DeadLetterEntry{
		"dlq-2": {ID: "dlq-2", Status: models.DLQStatusPending},
	}}
	admin := NewAdmin(store)

	view, err := admin.Inspect(context.Background(), "dlq-2")
	require.NoError(t, err)
	assert.Nil(t, view.Snapshot)
	assert.Equal(t, ReplayInput{}, view.Input)
}

func TestResolveRequiresResolvedBy(t *testing.T) {
	admin := NewAdmin(&fakeStore{entries: map[string]*models.DeadLetterEntry{}})
	err := admin.Resolve(context.Background(), "dlq-3", "", "notes")
	assert.Error(t, err)
}

func TestResolveDelegatesToStore(t *testing.T) {
	store := &fakeStore{entries: map[string]*models.DeadLetterEntry{}}
	admin := NewAdmin(store)
	err := admin.Resolve(context.Background(), "dlq-4", "alice", "looked into it")
	require.NoError(t, err)
	assert.Equal(t, "dlq-4", store.resolvedID)
	assert.Equal(t, "alice", store.resolvedBy)
}

func TestStatsAggregatesBothDimensions(t *testing.T) {
	store := &fakeStore{
		statsByErrType: []models.DLQStatsByDimension{{Key: "provider_error", Count: 3}},
		statsByService: []models.DLQStatsByDimension{{Key: "chat-api", Count: 5}},
	}
	admin := NewAdmin(store)

	stats, err := admin.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ByErrorType[0].Count)
	assert.Equal(t, 5, stats.ByService[0].Count)
}
