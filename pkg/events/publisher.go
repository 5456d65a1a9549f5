package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/models"
)

// publisher persists an event to pipeline_events and, within the same
// transaction, issues a pg_notify on the run's channel so any process
// with a live Streaming Bridge connection for that run can forward it.
// pg_notify is transactional in Postgres — the NOTIFY is held until
// COMMIT, so a reader never observes a notification for a row it can't
// yet SELECT.
type publisher struct {
	db *sql.DB
}

func newPublisher(db *sql.DB) *publisher {
	return &publisher{db: db}
}

// persistAndNotify inserts the event row and notifies the run's channel
// with an envelope carrying the assigned id, the run id, and (if it fits
// within Postgres's 8000-byte NOTIFY payload limit) the event body
// itself — sparing a round trip for the common case.
func (p *publisher) persistAndNotify(ctx context.Context, e *models.Event) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.Data == nil {
		e.Data = json.RawMessage("{}")
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO pipeline_events (
			pipeline_run_id, type, data_json, request_id, session_id,
			principal_id, tenant_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, e.RunID, e.Type, []byte(e.Data), e.RequestID, e.SessionID, e.PrincipalID, e.TenantID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline_events: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(e, id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", RunChannel(e.RunID), notifyPayload); err != nil {
		return 0, fmt.Errorf("pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit event transaction: %w", err)
	}
	return id, nil
}

// notifyOnly issues a pg_notify without a durable row, for the
// fire-and-forget path's background writer — the row is appended to
// pipeline_events separately (see sink.go), and the notify here is only
// what lets an attached Streaming Bridge skip a poll.
func (p *publisher) notifyOnly(ctx context.Context, runID string, e *models.Event, id int64) error {
	notifyPayload, err := buildNotifyPayload(e, id)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", RunChannel(runID), notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// notifyEnvelope is the wire shape carried over pg_notify. Postgres caps
// NOTIFY payloads at 8000 bytes, so a data field that doesn't fit is
// dropped and the client falls back to a catch-up fetch by id.
type notifyEnvelope struct {
	ID    int64           `json:"id"`
	RunID string          `json:"run_id"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const notifyPayloadLimit = 7900

func buildNotifyPayload(e *models.Event, id int64) (string, error) {
	full := notifyEnvelope{ID: id, RunID: e.RunID, Type: e.Type, Data: e.Data}
	fullBytes, err := json.Marshal(full)
	if err != nil {
		return "", fmt.Errorf("marshal notify envelope: %w", err)
	}
	if len(fullBytes) <= notifyPayloadLimit {
		return string(fullBytes), nil
	}

	truncated := notifyEnvelope{ID: id, RunID: e.RunID, Type: e.Type}
	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated notify envelope: %w", err)
	}
	return string(truncBytes), nil
}
