package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// ProviderCallService persists one row per external provider call made
// through the Provider Call Gateway, regardless of success or failure.
type ProviderCallService struct {
	db *sql.DB
}

// NewProviderCallService creates a new ProviderCallService.
func NewProviderCallService(db *sql.DB) *ProviderCallService {
	return &ProviderCallService{db: db}
}

// Record inserts a provider call record. The Gateway calls this after
// every call attempt (success or failure) so cost and circuit-breaker
// history are reconstructable from the log alone.
func (s *ProviderCallService) Record(ctx context.Context, rec *models.ProviderCallRecord) error {
	if rec.ID == "" {
		return kernelerrors.NewValidationError("id", "required")
	}
	if rec.RunID == "" {
		return kernelerrors.NewValidationError("run_id", "required")
	}
	if rec.Provider == "" {
		return kernelerrors.NewValidationError("provider", "required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_calls (
			id, pipeline_run_id, operation, provider, model,
			request_fingerprint, tokens_in, tokens_out, cached_tokens,
			duration_ms, success, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		rec.ID, rec.RunID, rec.Operation, rec.Provider, rec.Model,
		rec.RequestFingerprint, rec.TokensIn, rec.TokensOut, rec.CachedTokens,
		rec.DurationMS, rec.Success, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert provider_calls: %w", err)
	}
	return nil
}

// RecentFailureRate computes the fraction of the last `window` calls for
// a given (operation, provider, model) key that failed. The observe-only
// circuit breaker does not use it; its transitions come from its own
// in-memory consecutive-result counts.
func (s *ProviderCallService) RecentFailureRate(ctx context.Context, operation models.ProviderOperation, provider, model string, window int) (float64, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT success FROM provider_calls
		WHERE operation = $1 AND provider = $2 AND model = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, operation, provider, model, window)
	if err != nil {
		return 0, 0, fmt.Errorf("query provider_calls: %w", err)
	}
	defer rows.Close()

	var total, failures int
	for rows.Next() {
		var success bool
		if err := rows.Scan(&success); err != nil {
			return 0, 0, fmt.Errorf("scan provider_calls: %w", err)
		}
		total++
		if !success {
			failures++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(failures) / float64(total), total, nil
}

// ListByRun returns every provider call made during a run, used by the
// Run Controller to aggregate tokens and cost into the terminal row.
func (s *ProviderCallService) ListByRun(ctx context.Context, runID string) ([]*models.ProviderCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_run_id, operation, provider, model,
			request_fingerprint, tokens_in, tokens_out, cached_tokens,
			duration_ms, success, error, created_at
		FROM provider_calls WHERE pipeline_run_id = $1
		ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query provider_calls: %w", err)
	}
	defer rows.Close()

	var records []*models.ProviderCallRecord
	for rows.Next() {
		var r models.ProviderCallRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.Operation, &r.Provider, &r.Model,
			&r.RequestFingerprint, &r.TokensIn, &r.TokensOut, &r.CachedTokens,
			&r.DurationMS, &r.Success, &r.Error, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provider_calls: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
