package conn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/skeinhq/skein/internal/protocol"
)

// ErrNotStarted is returned by Send before Start has been called.
var ErrNotStarted = errors.New("connection manager not started")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Timings struct {
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	BackoffJitter     time.Duration
	BackoffMaxAttempt int
	WriteTimeout      time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		HeartbeatInterval: 10 * time.Second,
		HeartbeatGrace:    5 * time.Second,
		BackoffBase:       500 * time.Millisecond,
		BackoffCap:        10 * time.Second,
		BackoffJitter:     250 * time.Millisecond,
		BackoffMaxAttempt: 6,
		WriteTimeout:      10 * time.Second,
	}
}

type Options struct {
	// URL is the channel endpoint, e.g. "wss://api.skein.dev/ws".
	URL string
	// Token supplies the current access token at auth time, never a value
	// captured earlier.
	Token func() string
	// ActiveWorktree supplies the id included in the wake signal of the
	// resynchronization burst; empty means main only.
	ActiveWorktree func() string
	Handler        Handler
	// OnState observes lifecycle transitions; err is non-nil on failures.
	OnState func(state State, err error)
	// OnResync runs after every successful authentication and every
	// foreground recovery. The engine fetches the HTTP snapshot and
	// worktree list here; application must be idempotent.
	OnResync func()
	Timings  Timings
	// SendRate/SendBurst limit outbound channel messages. Rate 0 disables.
	SendRate  float64
	SendBurst int
	Logger    *slog.Logger
}

const maxOutbox = 256

// Manager owns one streaming channel at a time: connect, authenticate,
// heartbeat, detect staleness, reconnect with backoff, and route every
// inbound event by scope. One instance per logical client session.
type Manager struct {
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            uint64 // increments on every connect attempt
	backoff        *Backoff
	reconnectTimer *time.Timer
	hbCancel       context.CancelFunc
	lastPong       time.Time
	visible        bool
	authed         bool
	stopped        bool
	outbox         [][]byte

	runCtx context.Context
	cancel context.CancelFunc
}

func NewManager(opts Options) *Manager {
	// Each timing defaults independently so a caller setting only some
	// fields keeps the rest. Zero jitter is a valid choice and stays.
	def := DefaultTimings()
	if opts.Timings.HeartbeatInterval <= 0 {
		opts.Timings.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.Timings.HeartbeatGrace <= 0 {
		opts.Timings.HeartbeatGrace = def.HeartbeatGrace
	}
	if opts.Timings.BackoffBase <= 0 {
		opts.Timings.BackoffBase = def.BackoffBase
	}
	if opts.Timings.BackoffCap <= 0 {
		opts.Timings.BackoffCap = def.BackoffCap
	}
	if opts.Timings.BackoffMaxAttempt <= 0 {
		opts.Timings.BackoffMaxAttempt = def.BackoffMaxAttempt
	}
	if opts.Timings.WriteTimeout <= 0 {
		opts.Timings.WriteTimeout = def.WriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		opts:    opts,
		log:     opts.Logger,
		now:     time.Now,
		state:   StateIdle,
		visible: true,
		backoff: NewBackoff(
			opts.Timings.BackoffBase,
			opts.Timings.BackoffCap,
			opts.Timings.BackoffJitter,
			opts.Timings.BackoffMaxAttempt,
		),
	}
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}
	return m
}

// Start opens the channel and keeps it alive until Stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	go m.connect()
}

// Stop tears the channel down intentionally, suppressing reconnect.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.clearReconnectTimerLocked()
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.authed = false
	m.setStateLocked(StateClosed, nil)
	cancel := m.cancel
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "teardown")
	}
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt reports the current reconnect-attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Attempt()
}

func (m *Manager) setStateLocked(s State, err error) {
	m.state = s
	if m.opts.OnState != nil {
		go m.opts.OnState(s, err)
	}
}

func (m *Manager) clearReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.stopped || m.runCtx == nil {
		m.mu.Unlock()
		return
	}
	// At most one live channel per manager: a new attempt supersedes any
	// previous conn, which is closed below.
	m.gen++
	myGen := m.gen
	prev := m.conn
	m.conn = nil
	m.authed = false
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	m.setStateLocked(StateConnecting, nil)
	ctx := m.runCtx
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	c, _, err := websocket.Dial(ctx, m.opts.URL, nil)
	if err != nil {
		m.log.Warn("channel dial failed", "err", err)
		m.scheduleReconnect(myGen, err)
		return
	}
	c.SetReadLimit(1 << 20)

	m.mu.Lock()
	if m.stopped || m.gen != myGen {
		m.mu.Unlock()
		c.CloseNow()
		return
	}
	m.conn = c
	m.setStateLocked(StateAwaitingAuth, nil)
	m.mu.Unlock()

	if err := m.writeJSON(protocol.Auth{Type: protocol.TypeAuth, Token: m.opts.Token()}); err != nil {
		m.log.Warn("auth send failed", "err", err)
		c.CloseNow()
		m.scheduleReconnect(myGen, err)
		return
	}

	go m.readLoop(myGen, c)
}

func (m *Manager) readLoop(myGen uint64, c *websocket.Conn) {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			m.handleClose(myGen, err)
			return
		}
		m.dispatch(myGen, data)
	}
}

func (m *Manager) handleClose(myGen uint64, err error) {
	m.mu.Lock()
	if m.gen != myGen {
		// A newer channel already superseded this one.
		m.mu.Unlock()
		return
	}
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	m.conn = nil
	m.authed = false
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateDegraded, err)
	m.mu.Unlock()
	m.scheduleReconnect(myGen, err)
}

func (m *Manager) scheduleReconnect(myGen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.gen != myGen {
		return
	}
	m.clearReconnectTimerLocked()
	delay := m.backoff.Next()
	m.log.Info("scheduling reconnect", "attempt", m.backoff.Attempt(), "delay", delay, "cause", cause)
	m.reconnectTimer = time.AfterFunc(delay, m.connect)
}

// SetVisible tells the manager whether the client is foreground-visible.
// Foreground recovery probes liveness and re-issues the resynchronization
// burst, or reconnects immediately if the channel is down.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	m.visible = visible
	if !visible {
		m.mu.Unlock()
		return
	}
	open := m.conn != nil && m.authed
	started := m.runCtx != nil && !m.stopped
	if !open && started {
		// A user-visible tab switch should not wait out backoff.
		m.backoff.Reset()
		m.clearReconnectTimerLocked()
	}
	m.mu.Unlock()

	if open {
		_ = m.writeJSON(protocol.Ping{Type: protocol.TypePing})
		m.resync()
	} else if started {
		go m.connect()
	}
}

// resync issues the full resynchronization burst: wake the active work
// stream over the channel and let the engine refetch snapshot state.
func (m *Manager) resync() {
	active := ""
	if m.opts.ActiveWorktree != nil {
		active = m.opts.ActiveWorktree()
	}
	_ = m.writeJSON(protocol.WakeUp{Type: protocol.TypeWakeUp, WorktreeID: active})
	if m.opts.OnResync != nil {
		go m.opts.OnResync()
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, myGen uint64) {
	ticker := time.NewTicker(m.opts.Timings.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.heartbeatTick(myGen) {
				return
			}
		}
	}
}

// heartbeatTick sends one ping and enforces the staleness timeout.
// Returns false when the loop should stop.
func (m *Manager) heartbeatTick(myGen uint64) bool {
	m.mu.Lock()
	if m.gen != myGen || m.conn == nil || !m.authed {
		m.mu.Unlock()
		return false
	}
	c := m.conn
	if !m.visible {
		// Backgrounded: skip the ping but keep liveness fresh so
		// backgrounding never looks like a dead channel.
		m.lastPong = m.now()
		m.mu.Unlock()
		return true
	}
	stale := m.now().Sub(m.lastPong) > m.opts.Timings.HeartbeatInterval+m.opts.Timings.HeartbeatGrace
	m.mu.Unlock()

	if stale {
		m.log.Warn("heartbeat stale, forcing channel close")
		c.CloseNow() // read loop observes the close and schedules reconnect
		return false
	}
	_ = m.writeJSON(protocol.Ping{Type: protocol.TypePing})
	return true
}

// Send queues v when the channel is not yet authenticated and writes it
// directly otherwise. The offline queue is bounded; overflow is dropped.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.runCtx == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if !m.authed || m.conn == nil {
		if len(m.outbox) < maxOutbox {
			m.outbox = append(m.outbox, data)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.writeRaw(data)
}

func (m *Manager) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.writeRaw(data)
}

func (m *Manager) writeRaw(data []byte) error {
	m.mu.Lock()
	c := m.conn
	ctx := m.runCtx
	m.mu.Unlock()
	if c == nil {
		return errors.New("not connected")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	wctx, cancel := context.WithTimeout(ctx, m.opts.Timings.WriteTimeout)
	defer cancel()
	if m.limiter != nil {
		if err := m.limiter.Wait(wctx); err != nil {
			return err
		}
	}
	return c.Write(wctx, websocket.MessageText, data)
}

func (m *Manager) flushOutbox() {
	m.mu.Lock()
	pending := m.outbox
	m.outbox = nil
	m.mu.Unlock()
	for _, data := range pending {
		if err := m.writeRaw(data); err != nil {
			m.log.Warn("outbox flush failed", "err", err)
			return
		}
	}
}
