package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pipelinekit/orchestrator/pkg/events"
)

const (
	listenTimeout = 5 * time.Second
	catchupLimit  = 500
)

// CatchupQuerier fetches events persisted after a client's last seen
// event id, so a client reconnecting mid-run doesn't miss status
// updates emitted while it was disconnected.
type CatchupQuerier interface {
	ListSince(ctx context.Context, runID string, afterID int64) ([]CatchupEvent, error)
}

// CatchupEvent is one durable event replayed to a reconnecting client.
type CatchupEvent struct {
	ID   int64
	Type string
	Data json.RawMessage
}

// Connection is one attached WebSocket client, subscribed to exactly
// one run. subscriptions has a single entry in practice (the run id)
// but is kept as a set, matching the teacher's per-connection channel
// membership shape, since a future admin/observer connection watching
// multiple runs at once is a natural extension.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	RunID         string
	subscriptions map[string]bool // only ever touched by this connection's own goroutine

	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns every locally-attached WebSocket connection and the
// per-run fan-out of status frames to them. Token/audio frames are
// delivered by Bridge directly to the owning connection without going
// through the Event Sink at all (spec §4.8 — they bypass the event log
// entirely).
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection // by connection id

	channelMu sync.RWMutex
	byRun     map[string]map[string]bool // run id -> connection ids

	sink         *events.Sink
	catchup      CatchupQuerier
	writeTimeout time.Duration
}

// NewManager creates a Manager. sink is used to Subscribe/Unsubscribe
// this process's NOTIFY listener to a run's channel on first/last local
// connection, so other processes' events still reach this process's
// attached clients.
func NewManager(sink *events.Sink, catchup CatchupQuerier, writeTimeout time.Duration) *Manager {
	return &Manager{
		connections:  make(map[string]*Connection),
		byRun:        make(map[string]map[string]bool),
		sink:         sink,
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection upgrades and services one WebSocket connection
// scoped to a single run, blocking until the client disconnects or ctx
// is canceled. Call from the HTTP handler after websocket.Accept. bridge
// is optional: when non-nil, the connection is also attached to the
// Streaming Bridge so the run's token/audio/status frames reach this
// same socket alongside the durable catch-up events this method itself
// handles.
func (m *Manager) HandleConnection(parentCtx context.Context, runID string, conn *websocket.Conn, bridge *Bridge) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.NewString(),
		Conn:          conn,
		RunID:         runID,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
	defer m.unregisterConnection(c)

	m.registerConnection(c)
	if err := m.subscribeRun(c, runID); err != nil {
		m.sendJSON(c, map[string]string{"type": "subscription.error", "run_id": runID, "message": "failed to attach to run"})
		return
	}
	if bridge != nil {
		bridge.Attach(c, runID)
	}
	m.sendJSON(c, map[string]string{"type": "connection.established", "run_id": runID})
	m.handleCatchup(ctx, c, runID, 0)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

func (m *Manager) handleClientMessage(ctx context.Context, c *Connection, msg *events.ClientMessage) {
	switch msg.Action {
	case "catchup":
		var after int64
		if msg.LastEventID != nil {
			after = *msg.LastEventID
		}
		m.handleCatchup(ctx, c, c.RunID, after)
	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribeRun attaches the process's NOTIFY listener to the run's
// channel on first local subscriber. Mirrors the teacher's
// first-in/last-out LISTEN discipline.
func (m *Manager) subscribeRun(c *Connection, runID string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.byRun[runID]; !exists {
		m.byRun[runID] = make(map[string]bool)
		needsListen = true
	}
	m.byRun[runID][c.ID] = true
	m.channelMu.Unlock()

	if needsListen && m.sink != nil {
		listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
		defer cancel()
		if err := m.sink.Subscribe(listenCtx, runID); err != nil {
			m.channelMu.Lock()
			delete(m.byRun, runID)
			m.channelMu.Unlock()
			return fmt.Errorf("subscribe to run %s: %w", runID, err)
		}
	}
	c.subscriptions[runID] = true
	return nil
}

func (m *Manager) unsubscribeRun(c *Connection, runID string) {
	m.channelMu.Lock()
	subs, exists := m.byRun[runID]
	if exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.byRun, runID)
		}
	}
	m.channelMu.Unlock()

	if exists && len(subs) == 0 && m.sink != nil {
		go func() {
			m.channelMu.RLock()
			_, resubscribed := m.byRun[runID]
			m.channelMu.RUnlock()
			if resubscribed {
				return
			}
			if err := m.sink.Unsubscribe(context.Background(), runID); err != nil {
				slog.Error("unsubscribe from run channel failed", "run_id", runID, "error", err)
			}
		}()
	}
	delete(c.subscriptions, runID)
}

// Dispatch is registered with the Event Sink as its events.DispatchFunc
// — called for every NOTIFY on a run channel this process is listening
// to, forwarding it as a status frame to every locally-attached
// connection for that run.
func (m *Manager) Dispatch(channel string, payload []byte) {
	runID, ok := runIDFromChannel(channel)
	if !ok {
		return
	}

	m.channelMu.RLock()
	connIDs := m.byRun[runID]
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, payload); err != nil {
			slog.Warn("send status frame failed", "connection_id", conn.ID, "error", err)
		}
	}
}

func runIDFromChannel(channel string) (string, bool) {
	const prefix = "run:"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}

func (m *Manager) handleCatchup(ctx context.Context, c *Connection, runID string, afterID int64) {
	if m.catchup == nil {
		return
	}
	evs, err := m.catchup.ListSince(ctx, runID, afterID)
	if err != nil {
		slog.Error("catchup query failed", "run_id", runID, "error", err)
		return
	}
	for _, e := range evs {
		frame := map[string]any{"type": e.Type, "event_id": e.ID, "data": e.Data}
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("send catchup frame failed", "connection_id", c.ID, "error", err)
			return
		}
	}
}

func (m *Manager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribeRun(c, ch)
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal frame failed", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("send frame failed", "connection_id", c.ID, "error", err)
	}
}

func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// ActiveConnections returns the count of locally-attached connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
