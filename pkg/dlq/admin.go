package dlq

import (
	"context"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/models"
)

// store is the subset of *services.DLQService the admin surface needs,
// narrowed to an interface so tests substitute a fake instead of a
// database.
type store interface {
	Get(ctx context.Context, id string) (*models.DeadLetterEntry, error)
	List(ctx context.Context, status models.DLQStatus, limit int) ([]*models.DeadLetterEntry, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string) error
	MarkReprocessed(ctx context.Context, id string, success bool) error
	StatsByErrorType(ctx context.Context) ([]models.DLQStatsByDimension, error)
	StatsByService(ctx context.Context) ([]models.DLQStatsByDimension, error)
}

// Admin is the admin-facing view onto the dead-letter queue: list by
// status, inspect one entry (decoding its snapshot/input for display),
// resolve, and the statistics rollups spec §4.11 calls for.
type Admin struct {
	store store
}

// NewAdmin creates an Admin surface over a DLQService-shaped store.
func NewAdmin(store store) *Admin {
	return &Admin{store: store}
}

// EntryView is one dead-letter entry with its binary columns decoded for
// display, never for machine replay — ReplayFromEntry in pkg/run decodes
// straight from the stored bytes so no field is lost to this view's
// projection.
type EntryView struct {
	*models.DeadLetterEntry
	Snapshot *models.ContextSnapshot
	Input    ReplayInput
}

// Inspect retrieves one entry and decodes its snapshot/input for
// display.
func (a *Admin) Inspect(ctx context.Context, id string) (*EntryView, error) {
	entry, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &EntryView{DeadLetterEntry: entry}
	if len(entry.ContextSnapshot) > 0 {
		snapshot, err := DecodeSnapshot(entry.ContextSnapshot)
		if err != nil {
			return nil, fmt.Errorf("dlq: inspect %s: %w", id, err)
		}
		view.Snapshot = snapshot
	}
	if len(entry.InputData) > 0 {
		input, err := DecodeInput(entry.InputData)
		if err != nil {
			return nil, fmt.Errorf("dlq: inspect %s: %w", id, err)
		}
		view.Input = input
	}
	return view, nil
}

// List returns entries filtered by status, most recent first.
func (a *Admin) List(ctx context.Context, status models.DLQStatus, limit int) ([]*models.DeadLetterEntry, error) {
	return a.store.List(ctx, status, limit)
}

// Resolve marks an entry resolved by a principal, with free-text notes.
func (a *Admin) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	if resolvedBy == "" {
		return fmt.Errorf("dlq: resolve %s: resolved_by is required", id)
	}
	return a.store.Resolve(ctx, id, resolvedBy, notes)
}

// MarkReprocessed records the outcome of a replay attempt driven by
// pkg/run's ReplayFromEntry. Kept separate from the replay call itself
// so the admin layer never has to import pkg/run.
func (a *Admin) MarkReprocessed(ctx context.Context, id string, success bool) error {
	return a.store.MarkReprocessed(ctx, id, success)
}

// Stats is the statistics rollup spec §4.11 calls for: counts per error
// class and per service. Status counts come directly from List's total
// per status, computed by the caller.
type Stats struct {
	ByErrorType []models.DLQStatsByDimension
	ByService   []models.DLQStatsByDimension
}

// Stats computes the rollups.
func (a *Admin) Stats(ctx context.Context) (Stats, error) {
	byErr, err := a.store.StatsByErrorType(ctx)
	if err != nil {
		return Stats{}, err
	}
	byService, err := a.store.StatsByService(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ByErrorType: byErr, ByService: byService}, nil
}
