// Package client is the client-side synchronization engine: a connection
// manager with reconnection and backoff, an event dispatcher with
// correlation ids and bounded retry, an offline action queue, and a message
// reconciler that keeps the local collection consistent with the server log
// under duplicate and out-of-order delivery.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// State is the connection lifecycle state. Terminal Disconnected is reached
// only by explicit Close or after a hard failure; every other transition is
// automatic.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateActive
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Credentials identify the user on the authentication handshake.
type Credentials struct {
	UserID      string
	DisplayName string
	Token       string
}

// Options tune the manager. Zero values get sensible defaults.
type Options struct {
	AuthTimeout    time.Duration // ack wait per attempt (default 5s)
	AuthAttempts   int           // handshake attempts before hard failure (default 3)
	AuthRetryDelay time.Duration // fixed delay between handshake attempts

	BackoffBase     time.Duration // linear backoff step (default 250ms)
	BackoffCap      time.Duration // hard delay cap (default 1.5s)
	MaxReconnects   int           // attempts before ErrReconnectExhausted (default 10)
	QuietResetAfter time.Duration // idle period that resets the attempt counter

	Channels []string // subscribed after every successful handshake
}

func (o *Options) withDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 5 * time.Second
	}
	if o.AuthAttempts <= 0 {
		o.AuthAttempts = 3
	}
	if o.AuthRetryDelay <= 0 {
		o.AuthRetryDelay = 500 * time.Millisecond
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 250 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 1500 * time.Millisecond
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	if o.QuietResetAfter <= 0 {
		o.QuietResetAfter = 30 * time.Second
	}
	if len(o.Channels) == 0 {
		o.Channels = []string{"general"}
	}
}

// Manager owns one transport session and its lifecycle: handshake,
// reconnection with bounded jittered backoff, and health monitoring.
type Manager struct {
	dialer Dialer
	url    string
	creds  Credentials
	opts   Options

	mu        sync.Mutex
	state     State
	tr        Transport
	sessionID string
	attempt   int
	lastTryAt time.Time
	wasActive bool
	fatal     error
	pending   []models.Envelope

	stateCbs  []func(State)
	activeCbs []func(resync bool)

	inbound chan models.Envelope
	cancel  context.CancelFunc
	runDone chan struct{}
	firstCh chan error
}

// NewManager builds a manager; Open starts it.
func NewManager(d Dialer, url string, creds Credentials, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		dialer:  d,
		url:     url,
		creds:   creds,
		opts:    opts,
		inbound: make(chan models.Envelope, 256),
		runDone: make(chan struct{}),
		firstCh: make(chan error, 1),
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (m *Manager) OnStateChange(cb func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCbs = append(m.stateCbs, cb)
}

// OnActive registers a callback invoked on every entry into Active. resync
// is true only for a genuine reconnect (the connection had been Active
// before), signaling that the recent window must be re-fetched.
func (m *Manager) OnActive(cb func(resync bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCbs = append(m.activeCbs, cb)
}

// Inbound delivers server events in arrival order.
func (m *Manager) Inbound() <-chan models.Envelope { return m.inbound }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id assigned on the last successful handshake.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Err returns the terminal error after the manager has given up, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Open starts the connection loop and blocks until the first Active state
// or a hard failure.
func (m *Manager) Open(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go m.run(runCtx)
	select {
	case err := <-m.firstCh:
		return err
	case <-ctx.Done():
		m.Close()
		return ctx.Err()
	}
}

// Close tears the connection down. The resulting Disconnected state is
// terminal.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	tr := m.tr
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if tr != nil {
		_ = tr.Close()
	}
	<-m.runDone
}

// Send transmits an envelope on the live transport. It fails fast with
// ErrNotConnected when the connection is not Active.
func (m *Manager) Send(ctx context.Context, env models.Envelope) error {
	m.mu.Lock()
	tr := m.tr
	st := m.state
	m.mu.Unlock()
	if st != StateActive || tr == nil {
		return ErrNotConnected
	}
	return tr.Send(ctx, env)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.runDone)
	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		// a quiet period with no attempts resets the counter
		m.mu.Lock()
		if m.attempt > 0 && time.Since(m.lastTryAt) > m.opts.QuietResetAfter {
			m.attempt = 0
		}
		m.lastTryAt = time.Now()
		m.mu.Unlock()

		m.setState(StateConnecting)
		tr, err := m.dialer.Dial(ctx, m.url)
		if err != nil {
			logger.Log.Warn("dial_failed", zap.Error(err))
			if !m.backoff(ctx) {
				return
			}
			continue
		}

		m.setState(StateAuthenticating)
		sid, err := m.authenticate(ctx, tr)
		if err != nil {
			_ = tr.Close()
			if errors.Is(err, ErrAuthFailed) {
				m.fail(err)
				return
			}
			logger.Log.Warn("handshake_transport_error", zap.Error(err))
			if !m.backoff(ctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.tr = tr
		m.sessionID = sid
		m.attempt = 0
		resync := m.wasActive
		m.wasActive = true
		m.mu.Unlock()

		m.setState(StateActive)
		select {
		case m.firstCh <- nil:
		default:
		}
		m.notifyActive(resync)
		m.flushPending(ctx)
		m.subscribe(ctx, tr)

		err = m.receiveLoop(ctx, tr)
		_ = tr.Close()
		m.mu.Lock()
		m.tr = nil
		m.mu.Unlock()
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		logger.Log.Info("transport_lost", zap.Error(err))
		m.setState(StateDegraded)
		if !m.backoff(ctx) {
			return
		}
	}
}

// authenticate sends the identity and waits for the acknowledgment, up to
// AuthAttempts times. A rejected or timed-out ack yields ErrAuthFailed; a
// broken transport yields the underlying error so the caller treats it as
// transient.
func (m *Manager) authenticate(ctx context.Context, tr Transport) (string, error) {
	payload := models.AuthenticatePayload{
		UserID:      m.creds.UserID,
		DisplayName: m.creds.DisplayName,
		Token:       m.creds.Token,
	}
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	for attempt := 1; attempt <= m.opts.AuthAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, m.opts.AuthTimeout)
		env := models.NewEnvelope(models.EvtAuthenticate, uuid.NewString(), time.Now().UnixMilli(), payload)
		if err := tr.Send(actx, env); err != nil {
			cancel()
			return "", err
		}
		ack, err := m.awaitAuthenticated(actx, tr)
		cancel()
		switch {
		case err == nil && ack.Success:
			return ack.SessionID, nil
		case err == nil:
			logger.Log.Warn("auth_rejected", zap.String("reason", ack.Reason), zap.Int("attempt", attempt))
		case errors.Is(err, context.DeadlineExceeded):
			logger.Log.Warn("auth_ack_timeout", zap.Int("attempt", attempt))
		default:
			return "", err
		}
		if attempt < m.opts.AuthAttempts {
			select {
			case <-time.After(m.opts.AuthRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("%w: after %d attempts", ErrAuthFailed, m.opts.AuthAttempts)
}

func (m *Manager) awaitAuthenticated(ctx context.Context, tr Transport) (models.AuthenticatedPayload, error) {
	var ack models.AuthenticatedPayload
	for {
		env, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ack, context.DeadlineExceeded
			}
			return ack, err
		}
		if env.Event != models.EvtAuthenticated {
			// Servers may broadcast the joiner's own presence update before
			// the ack reaches the wire. Keep those frames; they are replayed
			// onto the inbound stream once the session goes Active.
			m.mu.Lock()
			m.pending = append(m.pending, env)
			m.mu.Unlock()
			continue
		}
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return ack, err
		}
		return ack, nil
	}
}

// flushPending delivers frames retained during the handshake. It runs after
// the Active-entry callbacks so event handlers are bound before the frames
// reach the dispatcher.
func (m *Manager) flushPending(ctx context.Context) {
	m.mu.Lock()
	held := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, env := range held {
		select {
		case m.inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// subscribe issues the channel subscription. The ack arrives on the normal
// inbound stream and is logged there; usability never blocks on it.
func (m *Manager) subscribe(ctx context.Context, tr Transport) {
	env := models.NewEnvelope(models.EvtSubscribe, uuid.NewString(), time.Now().UnixMilli(),
		models.SubscribePayload{Channels: m.opts.Channels})
	if err := tr.Send(ctx, env); err != nil {
		logger.Log.Warn("subscribe_send_failed", zap.Error(err))
	}
}

func (m *Manager) receiveLoop(ctx context.Context, tr Transport) error {
	for {
		env, err := tr.Receive(ctx)
		if err != nil {
			return err
		}
		if env.Event == models.EvtSubscribed {
			logger.Log.Info("subscription_confirmed")
		}
		select {
		case m.inbound <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff waits before the next attempt: linear in the attempt count up to
// the cap, plus random jitter so many clients do not reconnect in lockstep.
// It returns false once the attempt cap is exceeded.
func (m *Manager) backoff(ctx context.Context) bool {
	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()
	if attempt > m.opts.MaxReconnects {
		m.fail(fmt.Errorf("%w: after %d attempts", ErrReconnectExhausted, m.opts.MaxReconnects))
		return false
	}
	delay := time.Duration(attempt) * m.opts.BackoffBase
	if delay > m.opts.BackoffCap {
		delay = m.opts.BackoffCap
	}
	delay += time.Duration(rand.Int63n(int64(m.opts.BackoffBase)))
	logger.Log.Debug("reconnect_backoff", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		m.setState(StateDisconnected)
		return false
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.fatal = err
	m.mu.Unlock()
	m.setState(StateDisconnected)
	select {
	case m.firstCh <- err:
	default:
	}
	logger.Log.Error("connection_failed_permanently", zap.Error(err))
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	cbs := append([]func(State){}, m.stateCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (m *Manager) notifyActive(resync bool) {
	m.mu.Lock()
	cbs := append([]func(bool){}, m.activeCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(resync)
	}
}
