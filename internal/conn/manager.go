// Package conn owns the socket to the authority: dialing, heartbeat and
// bounded reconnection. It knows nothing about message content; frames go
// out through Send and come back as events.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("connection manager closed")
	ErrNoRoom       = errors.New("no room")
	ErrHeartbeat    = errors.New("heartbeat timed out")
	ErrJoinTimeout  = errors.New("join not confirmed")
)

// inboundHighWater is how many undelivered events the reader may leave
// behind before it stops reading from the socket.
const inboundHighWater = 256

type Config struct {
	// BaseURL is the authority root, e.g. ws://host:8080. The room code is
	// appended as /ws/{code}.
	BaseURL           string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxMisses         int
	DialTimeout       time.Duration
	// JoinTimeout bounds the wait for Confirm after the socket opens.
	JoinTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Backoff      func() backoff.BackOff
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxMisses:         3,
		DialTimeout:       10 * time.Second,
		JoinTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadLimit:         1 << 20,
		Backoff:           DefaultBackoff,
	}
}

type Manager struct {
	cfg    Config
	log    *zap.Logger
	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	state    State
	room     string
	joined   bool
	attempt  int
	bo       backoff.BackOff
	timer    *time.Timer
	ws       *websocket.Conn
	stopConn context.CancelFunc
	// gen invalidates goroutines and timers that belong to a torn down socket.
	gen    uint64
	closed bool

	lastSeen atomic.Int64

	// Pending events, delivered in order by pump. Emitting never blocks, so
	// the consumer of Events may call any method.
	qmu     sync.Mutex
	queue   []Event
	wake    chan struct{}
	drained chan struct{}
}

func New(cfg Config, logger *zap.Logger) *Manager {
	def := DefaultConfig(cfg.BaseURL)
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = def.MaxMisses
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:     cfg,
		log:     logger,
		events:  make(chan Event),
		done:    make(chan struct{}),
		bo:      cfg.Backoff(),
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}, 1),
	}
	go m.pump()
	return m
}

func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// Attempt is the current reconnect attempt, zero once confirmed.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Open starts a first-time connection to room. Any previous socket is
// dropped. Dial failures go through the reconnect policy.
func (m *Manager) Open(room string) error {
	if room == "" {
		return ErrNoRoom
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.teardownLocked(websocket.StatusNormalClosure, "switching room")
	m.room = room
	m.joined = false
	m.attempt = 0
	m.bo = m.cfg.Backoff()
	ev := m.setStateLocked(Connecting, nil)
	gen := m.gen
	m.mu.Unlock()

	m.emit(ev)
	go m.dial(gen, room)
	return nil
}

// Reconnect restarts the cycle with a fresh budget after GaveUp or an
// offline error. The join is flagged as a resume if the room was joined.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.room == "" {
		m.mu.Unlock()
		return ErrNoRoom
	}
	m.teardownLocked(websocket.StatusNormalClosure, "reconnecting")
	m.attempt = 0
	m.bo.Reset()
	ev := m.setStateLocked(Connecting, nil)
	gen, room := m.gen, m.room
	m.mu.Unlock()

	m.emit(ev)
	go m.dial(gen, room)
	return nil
}

// Confirm marks room membership as acknowledged by the authority. Only now
// is the connection Connected; the attempt budget is restored.
func (m *Manager) Confirm() {
	m.mu.Lock()
	if m.state != Connecting || m.ws == nil {
		m.mu.Unlock()
		return
	}
	m.joined = true
	m.attempt = 0
	m.bo.Reset()
	m.stopTimerLocked()
	ev := m.setStateLocked(Connected, nil)
	m.mu.Unlock()
	m.emit(ev)
}

// Fail drops the socket after an authority error. With retry the reconnect
// policy applies; without it the room is forgotten and the manager goes
// Offline.
func (m *Manager) Fail(retry bool, cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var evs []Event
	if retry {
		if m.state == Reconnecting || m.state == GaveUp {
			m.mu.Unlock()
			return
		}
		evs = m.lostLocked(cause)
	} else {
		m.teardownLocked(websocket.StatusNormalClosure, "offline")
		m.room = ""
		m.joined = false
		evs = []Event{m.setStateLocked(Offline, cause)}
	}
	m.mu.Unlock()
	m.emit(evs...)
}

// Send writes one text frame. It fails fast without a socket.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	c, gen := m.ws, m.gen
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		m.lost(gen, err)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close is a deliberate disconnect. Pending reconnects are cancelled and no
// further events are delivered.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.stopTimerLocked()
	c, stop := m.ws, m.stopConn
	m.ws, m.stopConn = nil, nil
	m.state = Offline
	m.room = ""
	m.mu.Unlock()
	close(m.done)

	if c == nil {
		return nil
	}
	err := c.Close(websocket.StatusNormalClosure, "bye")
	stop()
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (m *Manager) roomURL(room string) string {
	return strings.TrimRight(m.cfg.BaseURL, "/") + "/ws/" + url.PathEscape(room)
}

func (m *Manager) dial(gen uint64, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(ctx, m.roomURL(room), nil)

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if c != nil {
			_ = c.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		m.log.Debug("dial failed", zap.String("room", room), zap.Error(err))
		evs := m.lostLocked(err)
		m.mu.Unlock()
		m.emit(evs...)
		return
	}
	c.SetReadLimit(m.cfg.ReadLimit)
	connCtx, stop := context.WithCancel(context.Background())
	m.ws, m.stopConn = c, stop
	m.lastSeen.Store(time.Now().UnixNano())
	resume := m.joined
	m.timer = time.AfterFunc(m.cfg.JoinTimeout, func() { m.joinExpired(gen) })
	m.mu.Unlock()

	m.log.Debug("socket open", zap.String("room", room), zap.Bool("resume", resume))
	m.emit(Event{Kind: EventOpen, State: Connecting, Resume: resume})
	go m.readLoop(connCtx, c, gen)
	go m.heartbeat(connCtx, c, gen)
}

func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn, gen uint64) {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.lost(gen, err)
			}
			return
		}
		m.lastSeen.Store(time.Now().UnixNano())
		m.emitInbound(Event{Kind: EventMessage, Data: data})
	}
}

// joinExpired treats an open socket that never got its join confirmed as
// lost, so the reconnect policy runs.
func (m *Manager) joinExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.log.Info("join not confirmed", zap.String("room", m.room), zap.Duration("after", m.cfg.JoinTimeout))
	evs := m.lostLocked(ErrJoinTimeout)
	m.mu.Unlock()
	m.emit(evs...)
}

// lost handles a transport failure reported by a socket goroutine.
func (m *Manager) lost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.log.Info("connection lost", zap.String("room", m.room), zap.Error(cause))
	evs := m.lostLocked(cause)
	m.mu.Unlock()
	m.emit(evs...)
}

func (m *Manager) lostLocked(cause error) []Event {
	m.teardownLocked(websocket.StatusGoingAway, "connection lost")
	if m.room == "" {
		return []Event{m.setStateLocked(Offline, cause)}
	}
	return m.scheduleLocked(cause)
}

func (m *Manager) scheduleLocked(cause error) []Event {
	delay := m.bo.NextBackOff()
	if delay == backoff.Stop {
		ev := m.setStateLocked(GaveUp, cause)
		m.log.Warn("reconnect budget exhausted", zap.String("room", m.room), zap.Int("attempts", m.attempt))
		return []Event{ev, {Kind: EventGaveUp, State: GaveUp, Attempt: m.attempt, Err: cause}}
	}
	m.attempt++
	gen, room := m.gen, m.room
	m.timer = time.AfterFunc(delay, func() { m.retry(gen, room) })
	ev := m.setStateLocked(Reconnecting, cause)
	ev.Delay = delay
	return []Event{ev}
}

func (m *Manager) retry(gen uint64, room string) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ev := m.setStateLocked(Connecting, nil)
	m.mu.Unlock()
	m.emit(ev)
	m.dial(gen, room)
}

func (m *Manager) teardownLocked(code websocket.StatusCode, reason string) {
	m.gen++
	m.stopTimerLocked()
	if m.ws == nil {
		return
	}
	c, stop := m.ws, m.stopConn
	m.ws, m.stopConn = nil, nil
	go func() {
		_ = c.Close(code, reason)
		stop()
	}()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State, cause error) Event {
	m.state = s
	return Event{Kind: EventState, State: s, Attempt: m.attempt, Err: cause}
}

// emit queues events for delivery and returns at once.
func (m *Manager) emit(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	m.qmu.Lock()
	m.queue = append(m.queue, evs...)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// emitInbound is emit for the socket reader. It holds the reader back while
// the consumer is behind, which leaves the backlog in the socket.
func (m *Manager) emitInbound(ev Event) {
	m.emit(ev)
	for m.backlog() >= inboundHighWater {
		select {
		case <-m.drained:
		case <-m.done:
			return
		}
	}
}

func (m *Manager) backlog() int {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return len(m.queue)
}

func (m *Manager) pump() {
	for {
		m.qmu.Lock()
		if len(m.queue) == 0 {
			m.qmu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.qmu.Unlock()

		select {
		case m.events <- ev:
		case <-m.done:
			return
		}
		select {
		case m.drained <- struct{}{}:
		default:
		}
	}
}
