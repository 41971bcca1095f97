// Package presence carries the realtime side of the engine: a shared
// websocket transport and the per-room presence channel.
//
// Presence is best-effort. A dead transport degrades to "0 online" and
// must never block or fail messaging.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"room-engine/contract"
	"room-engine/errors"
	"room-engine/observability"
	"room-engine/runtime"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxAttempts    = 5
	DefaultRetryDelay     = time.Second
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type presencePayload struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

type countPayload struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// Manager owns the single websocket connection shared by every mounted
// room. Rooms acquire and release it explicitly; the connection is
// dialed on the first acquire and closed when the last reference goes.
// Manager is the only component that touches subscription state, and
// it scopes every inbound count to the room that registered for it.
type Manager struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	// dialMu serializes the initial dial so mu stays free for emits
	// and frame routing while a connection attempt is out.
	dialMu   sync.Mutex
	log      *slog.Logger
	url      string
	dialer   *websocket.Dialer
	conn     *websocket.Conn
	refs     int
	handlers map[string]func(count int)
	sup      *runtime.Supervisor
	supStop  context.CancelFunc
	monitor  *observability.Monitor

	connectTimeout time.Duration
	maxAttempts    int
	retryDelay     time.Duration
}

var _ contract.Transport = (*Manager)(nil)

func NewManager(url string, log *slog.Logger) *Manager {
	return &Manager{
		log:            log,
		url:            url,
		dialer:         websocket.DefaultDialer,
		handlers:       make(map[string]func(count int)),
		connectTimeout: DefaultConnectTimeout,
		maxAttempts:    DefaultMaxAttempts,
		retryDelay:     DefaultRetryDelay,
	}
}

// UseMonitor attaches engine counters. Optional.
func (m *Manager) UseMonitor(monitor *observability.Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = monitor
}

// Acquire takes a reference on the shared connection, dialing it if
// this is the first. Dialing is bounded: maxAttempts tries with a
// fixed delay, each under the connect timeout. On exhaustion the
// reference is not kept and the caller stays disconnected.
func (m *Manager) Acquire(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.conn != nil {
		m.refs++
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Dial with mu released: already-connected rooms keep emitting and
	// receiving counts while a first-connecting room retries.
	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sup := runtime.NewSupervisor(m.log, m.retryDelay)
	sup.Add(&readPump{manager: m})

	m.mu.Lock()
	m.conn = conn
	m.refs = 1
	m.supStop = cancel
	m.sup = sup
	m.mu.Unlock()

	go sup.Run(pumpCtx)
	return nil
}

// Release drops one reference; the last one closes the connection.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.supStop != nil {
		m.supStop()
		m.supStop = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

// Join emits the join signal and registers the count handler for the
// room. Counts for other rooms never reach this handler.
func (m *Manager) Join(room, userID string, onCount func(count int)) error {
	m.mu.Lock()
	m.handlers[room] = onCount
	m.mu.Unlock()
	return m.emit("join-room", presencePayload{Room: room, UserID: userID})
}

// Leave emits the leave signal and unregisters the room's handler.
func (m *Manager) Leave(room, userID string) error {
	m.mu.Lock()
	delete(m.handlers, room)
	m.mu.Unlock()
	return m.emit("leave-room", presencePayload{Room: room, UserID: userID})
}

func (m *Manager) emit(eventName string, payload presencePayload) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.ErrTransportUnavailable
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := json.Marshal(frame{Event: eventName, Data: data})
	if err != nil {
		return err
	}

	// Gorilla connections allow one concurrent writer.
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
		conn, _, err := m.dialer.DialContext(dialCtx, m.url, nil)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		m.log.Debug("Transport dial failed",
			"attempt", attempt, "max", m.maxAttempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %v", errors.ErrTransportUnavailable, lastErr)
}

// handleFrame routes one inbound frame. Unknown events and counts for
// rooms nobody registered are dropped.
func (m *Manager) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		m.log.Debug("Dropping unreadable frame", "error", err)
		return
	}
	if f.Event != "online-count" {
		return
	}
	var payload countPayload
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		m.log.Debug("Dropping malformed online-count", "error", err)
		return
	}

	m.mu.Lock()
	handler := m.handlers[payload.Room]
	m.mu.Unlock()
	if handler == nil {
		return
	}
	handler(payload.Count)
}

// reconnect redials after a read failure. Same bounds as the initial
// dial; on exhaustion the transport stays down and rooms keep their
// last known counts until something re-acquires.
func (m *Manager) reconnect(ctx context.Context) bool {
	conn, err := m.dial(ctx)
	if err != nil {
		m.log.Warn("Transport reconnect exhausted, presence degraded", "error", err)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		return false
	}
	m.mu.Lock()
	m.conn = conn
	monitor := m.monitor
	m.mu.Unlock()
	if monitor != nil {
		monitor.IncrPresenceReconnects()
	}
	return true
}

// readPump drains inbound frames for the manager. It runs supervised:
// a panic in a handler gets the pump restarted rather than silently
// ending presence updates.
type readPump struct {
	manager *Manager
}

func (p *readPump) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		p.manager.mu.Lock()
		conn := p.manager.conn
		p.manager.mu.Unlock()
		if conn == nil {
			return nil
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !p.manager.reconnect(ctx) {
				return nil
			}
			continue
		}
		p.manager.handleFrame(raw)
	}
}
