package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// ArtifactService manages the agent_actions and agent_artifacts tables:
// the Agent Output Applier's atomic persistence of one run's accepted
// plan items (spec §4.10).
type ArtifactService struct {
	db *sql.DB
}

// NewArtifactService creates a new ArtifactService.
func NewArtifactService(db *sql.DB) *ArtifactService {
	return &ArtifactService{db: db}
}

// ApplyAccepted inserts every accepted action and artifact in a single
// transaction, so a run never ends up with some items persisted and
// others silently dropped by a mid-batch failure.
func (s *ArtifactService) ApplyAccepted(ctx context.Context, runID string, actions []models.AgentAction, artifacts []models.AgentArtifact) error {
	if runID == "" {
		return kernelerrors.NewValidationError("run_id", "required")
	}
	if len(actions) == 0 && len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range actions {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return fmt.Errorf("marshal action payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_actions (id, pipeline_run_id, kind, payload_json)
			VALUES ($1,$2,$3,$4)
		`, a.ID, runID, a.Kind, payload); err != nil {
			return fmt.Errorf("insert agent_actions: %w", err)
		}
	}

	for _, a := range artifacts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_artifacts (id, pipeline_run_id, kind, content_type, payload, payload_bytes)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, a.ID, runID, a.Kind, a.ContentType, a.Payload, len(a.Payload)); err != nil {
			return fmt.Errorf("insert agent_artifacts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply transaction: %w", err)
	}
	return nil
}

// ListArtifacts returns every artifact persisted for a run, in
// insertion order.
func (s *ArtifactService) ListArtifacts(ctx context.Context, runID string) ([]*models.AgentArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_run_id, kind, content_type, payload
		FROM agent_artifacts WHERE pipeline_run_id = $1 ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query agent_artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentArtifact
	for rows.Next() {
		var a models.AgentArtifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.ContentType, &a.Payload); err != nil {
			return nil, fmt.Errorf("scan agent_artifacts row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
