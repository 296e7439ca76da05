// Package wsconn manages long-lived WebSocket connections: a
// connect/reconnect state machine, application-level keep-alive,
// request/response correlation, pub/sub dispatch, and outbound queueing
// while the link is down.
package wsconn

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/networking"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateReconnecting   State = "reconnecting"
	StateErrored        State = "errored"
)

// Defaults applied by New for zero-valued Config fields.
const (
	defaultConnectTimeout    = 30 * time.Second
	defaultPingInterval      = 30 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultReconnectInitial  = time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultMaxReconnects     = 5
	defaultQueueSize         = 100
	maxReconnectJitter       = time.Second
	writeTimeout             = 10 * time.Second
	inboundBuffer            = 64
	keepAliveCloseStatusText = "keep-alive timeout"
)

// Config describes one managed connection.
type Config struct {
	URL          string
	Subprotocols []string
	Header       http.Header

	// AuthMessage, when non-empty, is sent as the first frame after the
	// socket opens; the connection passes through authenticating before
	// reaching authenticated.
	AuthMessage string

	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	QueueSize    int
	DisableQueue bool

	Dialer *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = defaultReconnectInitial
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Stats is a snapshot of connection counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	Reconnects       int
	LastLatency      time.Duration
	ConnectedAt      time.Time
}

// session is one underlying socket. A reconnect replaces the session
// wholesale so stale reader goroutines cannot feed the new loop.
type session struct {
	conn     *websocket.Conn
	inbound  chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Manager owns one logical connection across reconnects.
type Manager struct {
	cfg Config

	mu                sync.RWMutex
	state             State
	sess              *session
	reconnectAttempts int
	reconnectTimer    *time.Timer

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	subsMu sync.RWMutex
	subs   map[string][]*subscription

	queue *messageQueue

	statsMu sync.Mutex
	stats   Stats

	backoff *backoff.ExponentialBackOff

	done      chan struct{}
	closeOnce sync.Once

	// Ping correlation state, touched only by the session run loop.
	pingID     string
	pingSentAt time.Time
}

// New builds a manager for the given configuration. Connect starts it.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectInitial
	bo.MaxInterval = cfg.ReconnectMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	return &Manager{
		cfg:     cfg,
		state:   StateDisconnected,
		pending: make(map[string]*pendingRequest),
		subs:    make(map[string][]*subscription),
		queue:   newMessageQueue(cfg.QueueSize),
		backoff: bo,
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns a snapshot of the running counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// QueueLen reports how many outbound messages are buffered.
func (m *Manager) QueueLen() int {
	return m.queue.len()
}

// Connect opens the connection. It fails if the manager is already
// connected or has been shut down; a dial that exceeds the connect
// timeout leaves the manager errored.
func (m *Manager) Connect(ctx context.Context) error {
	select {
	case <-m.done:
		return errors.NewTransportError("manager is shut down", nil)
	default:
	}

	if err := networking.ValidateWebSocketURL(m.cfg.URL); err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case StateDisconnected, StateErrored:
	default:
		m.mu.Unlock()
		return errors.NewTransportError("already connected or connecting", nil)
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.setState(StateErrored)
		return errors.NewTransportError("failed to connect", err)
	}
	return m.startSession(conn)
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := m.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	d := *dialer
	d.HandshakeTimeout = m.cfg.ConnectTimeout
	if len(m.cfg.Subprotocols) > 0 {
		d.Subprotocols = m.cfg.Subprotocols
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := d.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// startSession installs a freshly dialed socket, performs first-message
// auth if configured, starts the session goroutines, and flushes the
// outbound backlog.
func (m *Manager) startSession(conn *websocket.Conn) error {
	sess := &session{
		conn:    conn,
		inbound: make(chan []byte, inboundBuffer),
		stop:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sess = sess
	m.state = StateConnected
	m.reconnectAttempts = 0
	m.mu.Unlock()
	m.backoff.Reset()

	// A ping left unanswered by the previous session must not gate
	// keep-alive on this one. The old run loop has exited by now.
	m.pingID = ""

	m.statsMu.Lock()
	m.stats.ConnectedAt = time.Now()
	m.statsMu.Unlock()

	if m.cfg.AuthMessage != "" {
		m.setState(StateAuthenticating)
		if err := m.write([]byte(m.cfg.AuthMessage)); err != nil {
			sess.halt()
			_ = conn.Close()
			m.setState(StateErrored)
			return errors.NewAuthenticationError("failed to send auth message", err)
		}
		m.setState(StateAuthenticated)
	}

	go m.readLoop(sess)
	go m.runLoop(sess)

	m.flushQueue()
	logger.Debugw("websocket connected", "url", m.cfg.URL)
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Disconnect shuts the manager down: cancels any scheduled reconnect,
// closes the socket, and rejects every pending request. The manager
// cannot be reused afterwards.
func (m *Manager) Disconnect() {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		if m.reconnectTimer != nil {
			m.reconnectTimer.Stop()
			m.reconnectTimer = nil
		}
		sess := m.sess
		m.sess = nil
		m.state = StateDisconnected
		m.mu.Unlock()

		if sess != nil {
			sess.halt()
			m.writeMu.Lock()
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			m.writeMu.Unlock()
			_ = sess.conn.Close()
		}

		m.rejectPending("connection closed")
	})
}

// readLoop feeds raw frames from the socket into the session channel.
func (m *Manager) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			m.handleConnectionLoss(sess, err)
			return
		}

		m.statsMu.Lock()
		m.stats.MessagesReceived++
		m.stats.BytesReceived += uint64(len(data))
		m.statsMu.Unlock()

		select {
		case sess.inbound <- data:
		case <-sess.stop:
			return
		case <-m.done:
			return
		}
	}
}

// runLoop drains inbound frames and drives the keep-alive timers for
// one session. All ping correlation state is owned here.
func (m *Manager) runLoop(sess *session) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	pongTimer := time.NewTimer(time.Hour)
	if !pongTimer.Stop() {
		<-pongTimer.C
	}
	defer pongTimer.Stop()

	for {
		select {
		case data := <-sess.inbound:
			m.handleFrame(data, pongTimer)
		case <-ticker.C:
			m.sendPing(pongTimer)
		case <-pongTimer.C:
			logger.Warnf("no pong within %s, forcing close", m.cfg.PingInterval+m.cfg.PongTimeout)
			m.forceClose(sess)
			return
		case <-sess.stop:
			return
		case <-m.done:
			return
		}
	}
}

// handleFrame routes one inbound frame: keep-alive first, then request
// correlation, then pub/sub dispatch.
func (m *Manager) handleFrame(data []byte, pongTimer *time.Timer) {
	switch gjson.GetBytes(data, "type").String() {
	case "pong":
		if id := gjson.GetBytes(data, "id").String(); id != "" && id == m.pingID {
			if !pongTimer.Stop() {
				select {
				case <-pongTimer.C:
				default:
				}
			}
			latency := time.Since(m.pingSentAt)
			m.pingID = ""
			m.statsMu.Lock()
			m.stats.LastLatency = latency
			m.statsMu.Unlock()
		}
		return
	case "ping":
		echo := map[string]any{
			"type": "pong",
			"id":   gjson.GetBytes(data, "id").String(),
			"ts":   gjson.GetBytes(data, "ts").Value(),
		}
		if raw, err := json.Marshal(echo); err == nil {
			if err := m.write(raw); err != nil {
				logger.Debugw("failed to echo ping", "error", err)
			}
		}
		return
	}

	if id := gjson.GetBytes(data, "id").String(); id != "" && m.resolvePending(id, data) {
		return
	}

	m.dispatch(parseMessage(data))
}

// sendPing emits a keep-alive ping and arms the pong deadline. While a
// ping is unanswered no new ping goes out and the deadline stays armed,
// so a peer that accepts writes but never pongs is still force-closed
// once PingInterval+PongTimeout elapses.
func (m *Manager) sendPing(pongTimer *time.Timer) {
	if m.pingID != "" {
		return
	}
	id := uuid.NewString()
	frame := map[string]any{"type": "ping", "id": id, "ts": time.Now().UnixMilli()}
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := m.write(raw); err != nil {
		logger.Debugw("failed to send ping", "error", err)
		return
	}
	m.pingID = id
	m.pingSentAt = time.Now()
	pongTimer.Reset(m.cfg.PingInterval + m.cfg.PongTimeout)
}

// forceClose tears down a session whose peer stopped answering pings.
// Closing the socket makes the read loop fail, which drives reconnect.
func (m *Manager) forceClose(sess *session) {
	m.writeMu.Lock()
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, keepAliveCloseStatusText),
		time.Now().Add(writeTimeout))
	m.writeMu.Unlock()
	_ = sess.conn.Close()
}

// handleConnectionLoss reacts to an unexpected socket failure: the
// session is retired, in-flight requests are rejected, and reconnection
// starts unless the manager was shut down deliberately.
func (m *Manager) handleConnectionLoss(sess *session, err error) {
	select {
	case <-m.done:
		return
	default:
	}

	sess.halt()

	m.mu.Lock()
	if m.sess != sess {
		// A newer session already took over.
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	logger.Warnf("websocket connection lost: %v", err)
	m.rejectPending("connection closed")
	m.scheduleReconnect()
}

// scheduleReconnect arms the next reconnect attempt with exponential
// backoff plus up to a second of jitter, settling into errored once the
// attempt budget is spent.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	m.reconnectAttempts++
	if m.reconnectAttempts > m.cfg.MaxReconnectAttempts {
		m.state = StateErrored
		m.mu.Unlock()
		logger.Errorf("giving up after %d reconnect attempts", m.cfg.MaxReconnectAttempts)
		return
	}
	m.state = StateReconnecting
	delay := m.backoff.NextBackOff() + rand.N(maxReconnectJitter)
	attempt := m.reconnectAttempts
	m.reconnectTimer = time.AfterFunc(delay, m.attemptReconnect)
	m.mu.Unlock()

	logger.Debugw("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) attemptReconnect() {
	select {
	case <-m.done:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		logger.Debugw("reconnect attempt failed", "error", err)
		m.scheduleReconnect()
		return
	}
	if err := m.startSession(conn); err != nil {
		m.scheduleReconnect()
		return
	}

	m.statsMu.Lock()
	m.stats.Reconnects++
	m.statsMu.Unlock()
}

// Send marshals and transmits a message at default priority, buffering
// it if the connection is down and queueing is enabled.
func (m *Manager) Send(v any) error {
	return m.SendWithPriority(v, 0)
}

// SendWithPriority is Send with an explicit queue priority. Higher
// values flush first after a reconnect.
func (m *Manager) SendWithPriority(v any, priority int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternalError("failed to encode message", err)
	}

	if m.operational() {
		return m.write(data)
	}
	if m.cfg.DisableQueue {
		return errors.NewTransportError("not connected and queueing is disabled", nil)
	}
	if !m.queue.push(data, priority) {
		return errors.NewTransportError("message dropped: queue is full", nil)
	}
	return nil
}

func (m *Manager) operational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected || m.state == StateAuthenticated
}

// write transmits one frame. Writes are serialized: gorilla/websocket
// allows at most one concurrent writer per connection.
func (m *Manager) write(data []byte) error {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return errors.NewTransportError("not connected", nil)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NewTransportError("write failed", err)
	}

	m.statsMu.Lock()
	m.stats.MessagesSent++
	m.stats.BytesSent += uint64(len(data))
	m.statsMu.Unlock()
	return nil
}

// flushQueue drains the backlog onto a freshly established connection,
// highest priority first. On a write failure the remainder is requeued
// for the next reconnect.
func (m *Manager) flushQueue() {
	items := m.queue.drain()
	for i, item := range items {
		if err := m.write(item.data); err != nil {
			logger.Warnf("flush interrupted after %d messages: %v", i, err)
			for _, rest := range items[i:] {
				m.queue.push(rest.data, rest.priority)
			}
			return
		}
	}
}
