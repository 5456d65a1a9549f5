package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// DLQService manages the dead_letter_queue table: capture on failure,
// admin list/resolve, and stats rollups (spec §4.11).
type DLQService struct {
	db *sql.DB
}

// NewDLQService creates a new DLQService.
func NewDLQService(db *sql.DB) *DLQService {
	return &DLQService{db: db}
}

// Capture inserts a dead-letter entry for a failed run. ContextSnapshot
// and InputData are pre-encoded (msgpack, see pkg/dlq) opaque blobs so
// this layer never needs to know their shape.
func (s *DLQService) Capture(ctx context.Context, entry *models.DeadLetterEntry) error {
	if entry.ID == "" {
		return kernelerrors.NewValidationError("id", "required")
	}
	if entry.RunID == "" {
		return kernelerrors.NewValidationError("run_id", "required")
	}
	if entry.ErrorType == "" {
		return kernelerrors.NewValidationError("error_type", "required")
	}
	if entry.Status == "" {
		entry.Status = models.DLQStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letter_queue (
			id, pipeline_run_id, service, error_type, error_message,
			failed_stage, context_snapshot_json, input_data_json, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		entry.ID, entry.RunID, entry.Service, entry.ErrorType, entry.ErrorMessage,
		entry.FailedStage, entry.ContextSnapshot, entry.InputData, entry.Status,
	)
	if err != nil {
		return fmt.Errorf("insert dead_letter_queue: %w", err)
	}
	return nil
}

// Get retrieves a single dead-letter entry by id, including its
// replayable payloads — used by the reprocess operation.
func (s *DLQService) Get(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_run_id, service, error_type, error_message,
			failed_stage, context_snapshot_json, input_data_json, status,
			retry_count, created_at, resolved_at, resolved_by,
			resolution_notes, last_retry_at
		FROM dead_letter_queue WHERE id = $1
	`, id)

	var e models.DeadLetterEntry
	if err := row.Scan(
		&e.ID, &e.RunID, &e.Service, &e.ErrorType, &e.ErrorMessage,
		&e.FailedStage, &e.ContextSnapshot, &e.InputData, &e.Status,
		&e.RetryCount, &e.CreatedAt, &e.ResolvedAt, &e.ResolvedBy,
		&e.ResolutionNotes, &e.LastRetryAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: dlq entry %s", kernelerrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("scan dead_letter_queue: %w", err)
	}
	return &e, nil
}

// List returns dead-letter entries filtered by status (empty string
// means no filter), newest first, for the admin list operation.
func (s *DLQService) List(ctx context.Context, status models.DLQStatus, limit int) ([]*models.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, pipeline_run_id, service, error_type, error_message,
			failed_stage, status, retry_count, created_at, resolved_at,
			resolved_by, resolution_notes, last_retry_at
		FROM dead_letter_queue
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead_letter_queue: %w", err)
	}
	defer rows.Close()

	var entries []*models.DeadLetterEntry
	for rows.Next() {
		var e models.DeadLetterEntry
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.Service, &e.ErrorType, &e.ErrorMessage,
			&e.FailedStage, &e.Status, &e.RetryCount, &e.CreatedAt,
			&e.ResolvedAt, &e.ResolvedBy, &e.ResolutionNotes, &e.LastRetryAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead_letter_queue: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Resolve marks an entry resolved with an operator note, without
// requiring a reprocess attempt (spec §4.11 admin resolve).
func (s *DLQService) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letter_queue SET
			status = $1, resolved_at = now(), resolved_by = $2, resolution_notes = $3
		WHERE id = $4
	`, models.DLQStatusResolved, resolvedBy, notes, id)
	if err != nil {
		return fmt.Errorf("update dead_letter_queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: dlq entry %s", kernelerrors.ErrNotFound, id)
	}
	return nil
}

// MarkReprocessed increments retry_count and records the reprocess
// attempt. The caller (pkg/dlq) is responsible for actually replaying
// InputData through the Run Controller before calling this.
func (s *DLQService) MarkReprocessed(ctx context.Context, id string, success bool) error {
	status := models.DLQStatusInvestigating
	if success {
		status = models.DLQStatusReprocessed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letter_queue SET
			status = $1, retry_count = retry_count + 1, last_retry_at = now()
		WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update dead_letter_queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: dlq entry %s", kernelerrors.ErrNotFound, id)
	}
	return nil
}

// StatsByErrorType returns entry counts grouped by error_type, for the
// admin stats rollup.
func (s *DLQService) StatsByErrorType(ctx context.Context) ([]models.DLQStatsByDimension, error) {
	return s.statsBy(ctx, "error_type")
}

// StatsByService returns entry counts grouped by service.
func (s *DLQService) StatsByService(ctx context.Context) ([]models.DLQStatsByDimension, error) {
	return s.statsBy(ctx, "service")
}

func (s *DLQService) statsBy(ctx context.Context, column string) ([]models.DLQStatsByDimension, error) {
	// column is one of a fixed internal set of identifiers, never user
	// input, so this is not susceptible to injection.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM dead_letter_queue GROUP BY %s ORDER BY COUNT(*) DESC
	`, column, column))
	if err != nil {
		return nil, fmt.Errorf("query dead_letter_queue stats: %w", err)
	}
	defer rows.Close()

	var stats []models.DLQStatsByDimension
	for rows.Next() {
		var d models.DLQStatsByDimension
		if err := rows.Scan(&d.Key, &d.Count); err != nil {
			return nil, fmt.Errorf("scan dlq stats: %w", err)
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// PurgeResolvedOlderThan deletes resolved/reprocessed entries older than
// cutoff, per the retention policy's ResolvedDLQRetentionDays.
func (s *DLQService) PurgeResolvedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dead_letter_queue
		WHERE created_at < $1 AND status IN ('resolved','reprocessed')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge dead_letter_queue: %w", err)
	}
	return res.RowsAffected()
}
