// Overlayd - Collaborative Map Annotation Sync and Rendering
// Copyright 2026 The Overlayd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/overlayd/overlayd

// Package realtime owns the push channel to the annotation backend.
//
// The Manager runs a bounded-retry connection state machine:
//
//	Idle -> Connecting -> Connected
//	Connected -> Backoff -> Connecting   (unexpected drop)
//	Backoff exhausted -> Disconnected    (terminal, explicit Connect required)
//	any state -> Idle                    (manual Disconnect, no auto-reconnect)
//
// Dial failures and connection drops consume separate retry budgets,
// so a flaky handshake cannot eat the budget reserved for established
// connections. A successful connect resets both.
package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/overlayd/overlayd/internal/auth"
	"github.com/overlayd/overlayd/internal/config"
	"github.com/overlayd/overlayd/internal/logging"
	"github.com/overlayd/overlayd/internal/metrics"
)

// State is a connection lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateDisconnected // terminal until an explicit Connect
)

// String returns the lowercase state name used in logs and status
// responses.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connect triggers, used as metric labels.
const (
	triggerManual     = "manual"
	triggerRetry      = "retry"
	triggerVisibility = "visibility"
)

// pingWriteTimeout bounds each keepalive control write.
const pingWriteTimeout = 10 * time.Second

// Handler receives the raw JSON payload of one event. Handlers run on
// the manager's read goroutine and must not block.
type Handler func(data json.RawMessage)

// Subscription identifies one registered handler for Off.
type Subscription struct {
	Event string
	ID    uint64
}

// Status is a point-in-time snapshot of the connection for the
// operational API.
type Status struct {
	State        string `json:"state"`
	Endpoint     string `json:"endpoint"`
	DialFailures int    `json:"dialFailures"`
	DropFailures int    `json:"dropFailures"`
	MaxAttempts  int    `json:"maxAttempts"`
	Visible      bool   `json:"visible"`
}

// Manager owns one realtime connection and fans incoming events out
// to local subscribers. The subscription registry is independent of
// the connection lifecycle and survives reconnects.
type Manager struct {
	endpoint string
	cfg      config.RealtimeConfig
	tokens   auth.TokenProvider

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	stopChan     chan struct{}
	generation   uint64
	dialFailures int
	dropFailures int
	retryTimer   *time.Timer
	visible      bool
	baseCtx      context.Context

	wg sync.WaitGroup

	handlerMu sync.RWMutex
	handlers  map[string]map[uint64]Handler
	nextSub   uint64
}

// NewManager creates a manager for the given ws/wss endpoint. The
// manager starts Idle and visible; call Connect or Serve to dial.
func NewManager(endpoint string, cfg config.RealtimeConfig, tokens auth.TokenProvider) *Manager {
	m := &Manager{
		endpoint: endpoint,
		cfg:      cfg,
		tokens:   tokens,
		visible:  true,
		baseCtx:  context.Background(),
		handlers: make(map[string]map[uint64]Handler),
	}
	metrics.ConnectionState.Set(stateGauge(StateIdle))
	return m
}

// Serve runs the manager under a supervision tree: it dials once,
// then holds until ctx is canceled. It deliberately does not return
// when the state machine goes terminal, because terminal means "wait
// for an explicit Connect", not "restart me".
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	m.Connect()

	<-ctx.Done()
	m.Close()
	return ctx.Err()
}

// Connect starts dialing unless already Connecting or Connected. An
// explicit connect is a fresh start: it cancels any pending retry and
// resets both failure budgets. Missing credentials log a warning and
// leave the manager Idle; dial failures schedule a bounded retry.
func (m *Manager) Connect() {
	m.startConnect(triggerManual, true, false)
}

// Disconnect tears the connection down manually from any state and
// returns the manager to Idle. Pending retries are canceled and no
// automatic reconnection follows; the disconnected event carries the
// client-disconnect sentinel reason.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.generation++
	wasIdle := m.state == StateIdle
	conn := m.conn
	m.conn = nil
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if conn != nil {
		//nolint:errcheck // best-effort close handshake
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	if !wasIdle {
		m.emit(EventDisconnected, mustJSON(DisconnectInfo{Reason: ReasonClientDisconnect}))
		logging.Info().Msg("Realtime channel disconnected by client")
	}
}

// Close shuts the manager down and waits for its goroutines.
func (m *Manager) Close() error {
	m.Disconnect()
	m.wg.Wait()
	return nil
}

// SetVisibility records host visibility. Losing visibility never
// tears the connection down; regaining it triggers a reconnect when
// the channel is anything but Connected, terminal state included.
func (m *Manager) SetVisibility(visible bool) {
	m.mu.Lock()
	wasVisible := m.visible
	m.visible = visible
	state := m.state
	m.mu.Unlock()

	if visible && !wasVisible && state != StateConnected {
		logging.Info().Str("state", state.String()).Msg("Visibility regained, reconnecting realtime channel")
		m.startConnect(triggerVisibility, true, false)
	}
}

// On registers a handler for an event name and returns its
// subscription handle. Registration is independent of connection
// state.
func (m *Manager) On(event string, handler Handler) Subscription {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]Handler)
	}
	m.nextSub++
	id := m.nextSub
	m.handlers[event][id] = handler
	return Subscription{Event: event, ID: id}
}

// Off removes a previously registered handler. Unknown subscriptions
// are ignored.
func (m *Manager) Off(sub Subscription) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	if subs := m.handlers[sub.Event]; subs != nil {
		delete(subs, sub.ID)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status snapshots the connection for the operational API.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state.String(),
		Endpoint:     m.endpoint,
		DialFailures: m.dialFailures,
		DropFailures: m.dropFailures,
		MaxAttempts:  m.cfg.MaxAttempts,
		Visible:      m.visible,
	}
}

// startConnect moves the machine into Connecting and spawns the dial.
// requireBackoff restricts the transition to automatic retries so a
// stale timer cannot resurrect a manually disconnected channel.
func (m *Manager) startConnect(trigger string, resetBudget, requireBackoff bool) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	if requireBackoff && m.state != StateBackoff {
		m.mu.Unlock()
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if resetBudget {
		m.dialFailures = 0
		m.dropFailures = 0
	}
	m.setStateLocked(StateConnecting)
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	metrics.ConnectionAttempts.WithLabelValues(trigger).Inc()

	m.wg.Add(1)
	go m.dial(gen)
}

// dial fetches a token, performs the websocket handshake and installs
// the connection. Runs once per Connecting transition; a stale
// generation means the machine moved on and the result is discarded.
func (m *Manager) dial(gen uint64) {
	defer m.wg.Done()

	ctx := m.serveContext()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Realtime connect skipped, no token available")
		m.mu.Lock()
		if m.generation == gen && m.state == StateConnecting {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		return
	}

	wsURL, err := m.buildWebSocketURL(token)
	if err != nil {
		logging.Error().Err(err).Msg("Invalid realtime endpoint")
		m.handleDialFailure(gen, err)
		return
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  m.cfg.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("websocket dial: %w", err)
		}
		m.handleDialFailure(gen, err)
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	m.mu.Lock()
	if m.generation != gen || m.state != StateConnecting {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.dialFailures = 0
	m.dropFailures = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	logging.Info().Str("endpoint", m.endpoint).Msg("Realtime channel connected")

	m.wg.Add(2)
	go m.listen(conn, stop, gen)
	go m.pingLoop(conn, stop)

	m.emit(EventConnected, json.RawMessage(`{}`))
}

// handleDialFailure books a failed handshake against the dial budget
// and either schedules a retry or goes terminal.
func (m *Manager) handleDialFailure(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	metrics.ConnectionFailures.WithLabelValues("dial").Inc()
	m.dialFailures++
	failures := m.dialFailures
	terminal := failures >= m.cfg.MaxAttempts
	if terminal {
		m.setStateLocked(StateDisconnected)
	} else {
		m.setStateLocked(StateBackoff)
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	if terminal {
		logging.Error().Err(err).Int("attempts", failures).
			Msg("Realtime dial budget exhausted, explicit connect required")
		m.emit(EventDisconnected, mustJSON(DisconnectInfo{Reason: "retry budget exhausted"}))
		return
	}
	logging.Warn().Err(err).Int("attempt", failures).Int("max_attempts", m.cfg.MaxAttempts).
		Dur("retry_in", m.cfg.RetryDelay).Msg("Realtime dial failed, retry scheduled")
}

// handleDrop books an unexpected connection loss against the drop
// budget. Stale generations are manual disconnects already handled.
func (m *Manager) handleDrop(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	metrics.ConnectionFailures.WithLabelValues("drop").Inc()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
	m.dropFailures++
	failures := m.dropFailures
	terminal := failures >= m.cfg.MaxAttempts
	if terminal {
		m.setStateLocked(StateDisconnected)
	} else {
		m.setStateLocked(StateBackoff)
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	m.emit(EventDisconnected, mustJSON(DisconnectInfo{Reason: err.Error()}))

	if terminal {
		logging.Error().Err(err).Int("drops", failures).
			Msg("Realtime drop budget exhausted, explicit connect required")
		return
	}
	logging.Warn().Err(err).Int("drop", failures).Int("max_attempts", m.cfg.MaxAttempts).
		Dur("retry_in", m.cfg.RetryDelay).Msg("Realtime connection dropped, retry scheduled")
}

// scheduleRetryLocked arms the fixed-delay reconnect timer. Caller
// holds m.mu.
func (m *Manager) scheduleRetryLocked() {
	m.retryTimer = time.AfterFunc(m.cfg.RetryDelay, func() {
		m.startConnect(triggerRetry, false, true)
	})
}

// listen reads frames until the connection dies or stop closes.
func (m *Manager) listen(conn *websocket.Conn, stop chan struct{}, gen uint64) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout)); err != nil {
			logging.Debug().Err(err).Msg("Failed to set realtime read deadline")
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Manual teardown closed the socket under us.
				return
			default:
			}
			m.handleDrop(gen, err)
			return
		}

		m.handleFrame(frame)
	}
}

// handleFrame decodes one envelope and fans it out. Malformed frames
// are counted and dropped, never fatal.
func (m *Manager) handleFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		metrics.ConnectionMessagesDropped.Inc()
		logging.Warn().Err(err).Msg("Dropping malformed realtime frame")
		return
	}
	if env.Event == "" {
		metrics.ConnectionMessagesDropped.Inc()
		logging.Warn().Msg("Dropping realtime frame without event name")
		return
	}

	metrics.ConnectionEventsReceived.WithLabelValues(env.Event).Inc()
	m.emit(env.Event, env.Data)
}

// pingLoop sends keepalive pings. A failed write closes the socket so
// the read loop surfaces the drop exactly once.
func (m *Manager) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingWriteTimeout)); err != nil {
				logging.Debug().Err(err).Msg("Realtime ping failed")
				conn.Close()
				return
			}
		}
	}
}

// emit invokes every handler registered for event with the payload.
// The handler set is snapshotted first so handlers can subscribe and
// unsubscribe reentrantly.
func (m *Manager) emit(event string, data json.RawMessage) {
	m.handlerMu.RLock()
	subs := m.handlers[event]
	snapshot := make([]Handler, 0, len(subs))
	for _, handler := range subs {
		snapshot = append(snapshot, handler)
	}
	m.handlerMu.RUnlock()

	for _, handler := range snapshot {
		handler(data)
	}
}

// buildWebSocketURL attaches the bearer token to the endpoint as a
// query parameter for the handshake.
func (m *Manager) buildWebSocketURL(token string) (string, error) {
	parsed, err := url.Parse(m.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse realtime endpoint: %w", err)
	}

	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// setStateLocked records a state transition. Caller holds m.mu.
func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.ConnectionState.Set(stateGauge(s))
}

func (m *Manager) serveContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseCtx
}

func stateGauge(s State) float64 {
	return float64(s)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
