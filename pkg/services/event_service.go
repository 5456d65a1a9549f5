package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// EventService persists the append-only pipeline_events log that backs
// durable emission and catch-up replay for reconnecting Streaming Bridge
// clients.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// Append inserts one event row and returns its assigned sequence id.
// Called synchronously for durable emission and from the single-writer
// background queue for fire-and-forget emission.
func (s *EventService) Append(ctx context.Context, e *models.Event) (int64, error) {
	if e.RunID == "" {
		return 0, kernelerrors.NewValidationError("run_id", "required")
	}
	if e.Type == "" {
		return 0, kernelerrors.NewValidationError("type", "required")
	}
	if e.Data == nil {
		e.Data = json.RawMessage("{}")
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pipeline_events (
			pipeline_run_id, type, data_json, request_id, session_id,
			principal_id, tenant_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, e.RunID, e.Type, []byte(e.Data), e.RequestID, e.SessionID, e.PrincipalID, e.TenantID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline_events: %w", err)
	}
	return id, nil
}

// ListByRun returns every event for a run in emission order, for
// catch-up replay when a Streaming Bridge client reconnects mid-run.
func (s *EventService) ListByRun(ctx context.Context, runID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_run_id, type, timestamp, data_json, request_id,
			session_id, principal_id, tenant_id
		FROM pipeline_events
		WHERE pipeline_run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Timestamp, &data, &e.RequestID, &e.SessionID, &e.PrincipalID, &e.TenantID); err != nil {
			return nil, fmt.Errorf("scan pipeline_events: %w", err)
		}
		e.Data = data
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListSince returns events for a run with id greater than afterID, for
// incremental catch-up once a client has already drained an initial
// snapshot.
func (s *EventService) ListSince(ctx context.Context, runID string, afterID int64) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_run_id, type, timestamp, data_json, request_id,
			session_id, principal_id, tenant_id
		FROM pipeline_events
		WHERE pipeline_run_id = $1 AND id > $2
		ORDER BY id ASC
	`, runID, afterID)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Timestamp, &data, &e.RequestID, &e.SessionID, &e.PrincipalID, &e.TenantID); err != nil {
			return nil, fmt.Errorf("scan pipeline_events: %w", err)
		}
		e.Data = data
		events = append(events, &e)
	}
	return events, rows.Err()
}
