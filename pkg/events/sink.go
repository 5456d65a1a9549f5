package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/models"
)

// RunContext carries the ambient identifiers every event and log line
// for a run should be stamped with, so no caller has to thread run,
// request, principal, and tenant ids through every function signature
// by hand (spec §4.1 "ambient RunContext").
type RunContext struct {
	RunID       string
	RequestID   string
	SessionID   string
	PrincipalID string
	TenantID    string
}

// LogAttrs returns the RunContext as slog attributes, for components
// that want ambient identifiers on every log line in addition to every
// event.
func (rc RunContext) LogAttrs() []any {
	return []any{
		"run_id", rc.RunID,
		"request_id", rc.RequestID,
		"session_id", rc.SessionID,
		"principal_id", rc.PrincipalID,
		"tenant_id", rc.TenantID,
	}
}

// fireAndForgetQueueDepth bounds each run's background emission queue.
// A run producing events faster than the writer can persist them (a
// runaway stage loop) drops the oldest queued event rather than
// blocking the stage — matching the Streaming Bridge's own
// drop-oldest policy for token frames.
const fireAndForgetQueueDepth = 256

// Sink is the Event Sink: the single path by which kernel components
// report what happened during a run. Durable emission persists
// synchronously before returning; fire-and-forget emission hands the
// event to a per-run background writer that preserves emission order
// without making the caller wait on a database round trip.
type Sink struct {
	db       *sql.DB
	dsn      string
	pub      *publisher
	listener *NotifyListener
	dispatch DispatchFunc

	mu      sync.Mutex
	writers map[string]*runWriter // keyed by run id
}

// NewSink creates a Sink. dsn is the connection string used for the
// dedicated LISTEN connection (pgx requires one outside the pool: a
// pooled connection can be handed back mid-WaitForNotification). dispatch,
// if non-nil, is invoked for every event fanned out over NOTIFY for a
// run this process has a Streaming Bridge connection attached to (see
// pkg/stream).
func NewSink(db *sql.DB, dsn string, dispatch DispatchFunc) *Sink {
	return &Sink{
		db:       db,
		dsn:      dsn,
		pub:      newPublisher(db),
		dispatch: dispatch,
		writers:  make(map[string]*runWriter),
	}
}

// StartListening establishes the NOTIFY connection this process uses to
// learn about events published by any process (including itself). Call
// once at process startup.
func (s *Sink) StartListening(ctx context.Context) error {
	s.listener = NewNotifyListener(s.dsn, s.dispatch)
	return s.listener.Start(ctx)
}

// Subscribe attaches this process's listener to a run's channel so
// locally-registered dispatch can receive its events. The Streaming
// Bridge calls this when a client connects for a run, and the matching
// Unsubscribe when it disconnects.
func (s *Sink) Subscribe(ctx context.Context, runID string) error {
	if s.listener == nil {
		return fmt.Errorf("event sink: listener not started")
	}
	return s.listener.Subscribe(ctx, RunChannel(runID))
}

// Unsubscribe detaches from a run's channel.
func (s *Sink) Unsubscribe(ctx context.Context, runID string) error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Unsubscribe(ctx, RunChannel(runID))
}

// RegisterControlHandler registers a handler on the global control
// channel, used by pkg/cancel to propagate cancellation requests across
// processes.
func (s *Sink) RegisterControlHandler(fn func(payload []byte)) {
	if s.listener == nil {
		return
	}
	s.listener.RegisterHandler(GlobalControlChannel, fn)
}

// PublishControl broadcasts a raw control payload on the global control
// channel — used by pkg/cancel, not by run-scoped event emission.
func (s *Sink) PublishControl(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", GlobalControlChannel, string(payload))
	return err
}

// EmitDurable synchronously persists an event and notifies any attached
// Streaming Bridge clients before returning. Used for events whose
// absence would be a correctness problem if the process crashed right
// after emitting them: pipeline/stage lifecycle transitions, policy
// decisions, provider call outcomes (spec §4.1 "durable").
func (s *Sink) EmitDurable(ctx context.Context, rc RunContext, eventType string, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	e := &models.Event{
		RunID: rc.RunID, Type: eventType, Data: raw,
		RequestID: rc.RequestID, SessionID: rc.SessionID,
		PrincipalID: rc.PrincipalID, TenantID: rc.TenantID,
	}
	if _, err := s.pub.persistAndNotify(ctx, e); err != nil {
		return fmt.Errorf("emit durable event %s: %w", eventType, err)
	}
	return nil
}

// EmitFireAndForget hands an event to the run's single-writer
// background queue and returns immediately. Used for high-frequency,
// non-essential telemetry where blocking the stage on a database round
// trip would hurt latency more than an occasional dropped event would
// hurt observability. Ordering within one run is still preserved — a
// single goroutine per run drains its queue in FIFO order — but the
// queue has a bounded depth and drops the oldest entry under pressure.
func (s *Sink) EmitFireAndForget(rc RunContext, eventType string, data any) {
	raw, err := marshalData(data)
	if err != nil {
		slog.Error("fire-and-forget event: marshal failed", "type", eventType, "error", err)
		return
	}
	e := &models.Event{
		RunID: rc.RunID, Type: eventType, Data: raw,
		RequestID: rc.RequestID, SessionID: rc.SessionID,
		PrincipalID: rc.PrincipalID, TenantID: rc.TenantID,
	}
	s.writerFor(rc.RunID).enqueue(e)
}

// CloseRun tears down the background writer for a run once it has
// reached a terminal state and no more events for it will be emitted.
// Safe to call even if no writer was ever created.
func (s *Sink) CloseRun(runID string) {
	s.mu.Lock()
	w, ok := s.writers[runID]
	delete(s.writers, runID)
	s.mu.Unlock()
	if ok {
		w.stop()
	}
}

func (s *Sink) writerFor(runID string) *runWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[runID]
	if !ok {
		w = newRunWriter(s.pub)
		s.writers[runID] = w
	}
	return w
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal event data: %v", kernelerrors.ErrValidation, err)
	}
	return b, nil
}

// runWriter is the single-writer goroutine that drains one run's
// fire-and-forget queue in order, persisting and notifying for each
// event it dequeues.
type runWriter struct {
	pub    *publisher
	events chan *models.Event
	done   chan struct{}
}

func newRunWriter(pub *publisher) *runWriter {
	w := &runWriter{
		pub:    pub,
		events: make(chan *models.Event, fireAndForgetQueueDepth),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *runWriter) enqueue(e *models.Event) {
	select {
	case w.events <- e:
	default:
		// Queue full: drop the oldest to make room rather than block the
		// emitting stage — matches the Streaming Bridge's ring-buffer
		// backpressure policy for the same reason.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- e:
		default:
		}
	}
}

func (w *runWriter) run() {
	for {
		select {
		case e := <-w.events:
			if _, err := w.pub.persistAndNotify(context.Background(), e); err != nil {
				slog.Error("fire-and-forget event write failed", "run_id", e.RunID, "type", e.Type, "error", err)
			}
		case <-w.done:
			// Drain whatever is left before exiting so a run's tail events
			// aren't silently lost on close.
			for {
				select {
				case e := <-w.events:
					if _, err := w.pub.persistAndNotify(context.Background(), e); err != nil {
						slog.Error("fire-and-forget event write failed", "run_id", e.RunID, "type", e.Type, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (w *runWriter) stop() {
	close(w.done)
}
