// Package services provides thin, validate-then-execute persistence
// services over the tables the kernel owns (pipeline_runs,
// pipeline_events, provider_calls, dead_letter_queue, agent_actions,
// agent_artifacts). Each service takes
// a *sql.DB (the pgx stdlib driver, see pkg/database) rather than an ORM
// client — see DESIGN.md for why.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// RunService manages the pipeline_runs table: the Run Controller's
// create-once, mutate-to-terminal row.
type RunService struct {
	db *sql.DB
}

// NewRunService creates a new RunService.
func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

// CreateRun inserts a new run row with the caller's Status, or
// status=created when Status is empty. The caller supplies
// the run id (the Run Controller allocates it so it can register a
// Cancellation Handle before the row exists).
func (s *RunService) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		return kernelerrors.NewValidationError("id", "required")
	}
	if run.Topology == "" {
		return kernelerrors.NewValidationError("topology", "required")
	}
	if run.Service == "" {
		return kernelerrors.NewValidationError("service", "required")
	}
	if run.Status == "" {
		run.Status = models.RunStatusCreated
	}
	if run.StagesJSON == nil {
		run.StagesJSON = json.RawMessage("[]")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			id, service, requester_id, principal_id, tenant_id, topology, mode,
			quality_mode, status, success, error, stages_summary_json,
			request_id, session_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		run.ID, run.Service, run.RequesterID, run.PrincipalID, run.TenantID,
		run.Topology, run.Mode, run.QualityMode, run.Status, run.Success,
		run.Error, []byte(run.StagesJSON), run.RequestID, run.SessionID,
	)
	if err != nil {
		return fmt.Errorf("insert pipeline_runs: %w", err)
	}
	return nil
}

// NewRunID generates a new run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// UpdateTerminal writes a run's terminal status and aggregates (spec
// §4.7 step 7). Only callable once per run in practice — the Run
// Controller calls it exactly once on its way out.
func (s *RunService) UpdateTerminal(ctx context.Context, runID string, status models.RunStatus, success bool, runErr string, aggregates RunAggregates) error {
	if !status.Terminal() {
		return kernelerrors.NewValidationError("status", "must be a terminal status")
	}

	stagesJSON, err := json.Marshal(aggregates.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage summaries: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			status = $1, success = $2, error = $3,
			total_latency_ms = $4, ttft_ms = $5, ttfa_ms = $6, ttfc_ms = $7,
			tokens_in = $8, tokens_out = $9, cost_cents = $10,
			stages_summary_json = $11
		WHERE id = $12
	`,
		status, success, runErr,
		aggregates.TotalLatencyMS, aggregates.TimeToFirstTokenMS,
		aggregates.TimeToFirstAudioMS, aggregates.TimeToFirstChunkMS,
		aggregates.TokensIn, aggregates.TokensOut, aggregates.CostCents,
		stagesJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("update pipeline_runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", kernelerrors.ErrNotFound, runID)
	}
	return nil
}

// SetRunning flips a created run to running.
func (s *RunService) SetRunning(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET status = $1 WHERE id = $2`, models.RunStatusRunning, runID)
	if err != nil {
		return fmt.Errorf("update pipeline_runs: %w", err)
	}
	return nil
}

// RunAggregates holds the values the Run Controller computes from the
// event log and provider call records before writing the terminal row.
type RunAggregates struct {
	TotalLatencyMS     int64
	TimeToFirstTokenMS int64
	TimeToFirstAudioMS int64
	TimeToFirstChunkMS int64
	TokensIn           int64
	TokensOut          int64
	CostCents          int64
	Stages             []models.StageSummary
}

// GetRun retrieves a run by id. Used for the idempotency check (spec
// §4.7 "Idempotency") and for the cancel handler's authorization lookup.
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, requester_id, principal_id, tenant_id, topology, mode,
			quality_mode, status, success, error, total_latency_ms, ttft_ms,
			ttfa_ms, ttfc_ms, tokens_in, tokens_out, cost_cents,
			stages_summary_json, request_id, session_id, created_at
		FROM pipeline_runs WHERE id = $1
	`, runID)

	var run models.Run
	var stages []byte
	if err := row.Scan(
		&run.ID, &run.Service, &run.RequesterID, &run.PrincipalID, &run.TenantID,
		&run.Topology, &run.Mode, &run.QualityMode, &run.Status, &run.Success,
		&run.Error, &run.TotalLatencyMS, &run.TimeToFirstTokenMS,
		&run.TimeToFirstAudioMS, &run.TimeToFirstChunkMS, &run.TokensIn,
		&run.TokensOut, &run.CostCents, &stages, &run.RequestID, &run.SessionID,
		&run.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: run %s", kernelerrors.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("scan pipeline_runs: %w", err)
	}
	run.StagesJSON = stages
	return &run, nil
}

// PurgeOlderThan deletes terminal runs (and, via FK cascade expectations
// enforced at the application layer, their events) older than cutoff.
// Used by the retention cleanup loop (pkg/config.RetentionConfig).
func (s *RunService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_runs
		WHERE created_at < $1 AND status IN ('completed','failed','canceled')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge pipeline_runs: %w", err)
	}
	return res.RowsAffected()
}
