// Package cancel implements the Cancellation Registry and per-run
// Cancellation Handle (spec §4.5 "Cancellation"): a way to ask a running
// pipeline to stop, observed cooperatively by the scheduler and by
// stages at their own suspension points, and propagated to every process
// that might be hosting the run.
package cancel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handle is a single run's Cancellation Handle. It satisfies
// stage.CancelProbe so the scheduler and stage implementations can check
// it without importing this package.
type Handle struct {
	canceled chan struct{}
	once     sync.Once
	reason   string
	mu       sync.RWMutex
}

func newHandle() *Handle {
	return &Handle{canceled: make(chan struct{})}
}

// Canceled reports whether this run has been asked to cancel.
func (h *Handle) Canceled() bool {
	select {
	case <-h.canceled:
		return true
	default:
		return false
	}
}

// Done returns a channel closed the moment the run is canceled, so a
// stage blocked in a select can react immediately instead of polling
// Canceled().
func (h *Handle) Done() <-chan struct{} {
	return h.canceled
}

// Reason returns why the run was canceled, if it was.
func (h *Handle) Reason() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason
}

func (h *Handle) trip(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	h.mu.Unlock()
	h.once.Do(func() { close(h.canceled) })
}

// controlPublisher is the subset of *events.Sink the Registry needs to
// broadcast a cancel request to every process hosting this run.
type controlPublisher interface {
	PublishControl(ctx context.Context, payload []byte) error
	RegisterControlHandler(fn func(payload []byte))
}

type controlMessage struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// Registry is the process-wide Cancellation Registry: every run this
// process is actively executing gets one Handle, keyed by run id.
// Requesting cancellation for a run this process isn't hosting is not an
// error — it's broadcast on the control channel for whichever process
// is.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	control controlPublisher
}

// New creates a Registry. If control is non-nil, the Registry registers
// a handler on the shared control channel so a cancel request published
// by any process (including a different replica) trips the local handle
// for that run, if one exists here. Pass nil in tests that never need
// cross-process propagation.
func New(control controlPublisher) *Registry {
	r := &Registry{
		handles: make(map[string]*Handle),
		control: control,
	}
	if control != nil {
		control.RegisterControlHandler(r.onControlMessage)
	}
	return r
}

// Register creates and stores a fresh Handle for a run, called by the
// Run Controller right before starting the scheduler. Registering a run
// id that already has a Handle replaces that Handle with the fresh one.
func (r *Registry) Register(runID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := newHandle()
	r.handles[runID] = h
	return h
}

// Release removes a run's Handle once it has reached a terminal state.
// Safe to call even if the run was never registered here.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, runID)
}

// RequestCancel trips the run's Handle if it is hosted by this process,
// and always broadcasts the request on the shared control channel so any
// other process hosting it cancels too. Returns whether this process was
// hosting the run.
func (r *Registry) RequestCancel(ctx context.Context, runID, reason string) (hostedHere bool, err error) {
	hostedHere = r.tripLocal(runID, reason)

	if r.control != nil {
		payload, marshalErr := json.Marshal(controlMessage{RunID: runID, Reason: reason})
		if marshalErr != nil {
			return hostedHere, fmt.Errorf("cancel: marshal control message: %w", marshalErr)
		}
		if err := r.control.PublishControl(ctx, payload); err != nil {
			return hostedHere, fmt.Errorf("cancel: publish control message: %w", err)
		}
	}
	return hostedHere, nil
}

func (r *Registry) tripLocal(runID, reason string) bool {
	r.mu.RLock()
	h, ok := r.handles[runID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h.trip(reason)
	return true
}

// onControlMessage is registered on the global control channel; it is
// invoked once per cancel request published by any process, including
// this one (Postgres NOTIFY delivers to every listening connection, this
// process's own included, so a local RequestCancel call also round-trips
// here — tripLocal is idempotent, so that's harmless).
func (r *Registry) onControlMessage(payload []byte) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	r.tripLocal(msg.RunID, msg.Reason)
}

// Lookup returns a run's Handle and whether this process is hosting it.
func (r *Registry) Lookup(runID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[runID]
	return h, ok
}
