package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Handler consumes one inbound event.
type Handler func(env models.Envelope)

// EmitOptions controls bounded-retry emission.
type EmitOptions struct {
	Retry      bool
	MaxRetries int
	RetryDelay time.Duration
}

// Dispatcher routes inbound events to named handlers and emits outbound
// events with correlation stamping. Registration is idempotent per event
// name: the first registration wins until it is explicitly unregistered, so
// re-initialization cannot double-invoke handlers.
type Dispatcher struct {
	mgr *Manager

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewDispatcher attaches to the manager's inbound stream. Event bindings
// are cleared whenever the transport degrades; a fresh physical connection
// must re-establish them.
func NewDispatcher(mgr *Manager) *Dispatcher {
	d := &Dispatcher{mgr: mgr, handlers: make(map[string]Handler)}
	mgr.OnStateChange(func(s State) {
		if s == StateDegraded {
			d.ClearBindings()
		}
	})
	return d
}

// Run consumes inbound events until ctx is canceled. Events with no
// registered handler are dropped with a debug log.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.mgr.Inbound():
			d.mu.Lock()
			h := d.handlers[env.Event]
			d.mu.Unlock()
			if h == nil {
				logger.Log.Debug("unhandled_event", zap.String("event", env.Event))
				continue
			}
			h(env)
		}
	}
}

// Register binds handler to eventName and returns the matching unregister
// function. Registering an already-bound event is a no-op whose returned
// function does nothing.
func (d *Dispatcher) Register(eventName string, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[eventName]; exists {
		logger.Log.Debug("duplicate_handler_ignored", zap.String("event", eventName))
		return func() {}
	}
	d.handlers[eventName] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, eventName)
	}
}

// Registered reports whether eventName currently has a handler.
func (d *Dispatcher) Registered(eventName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[eventName]
	return ok
}

// ClearBindings drops every handler binding.
func (d *Dispatcher) ClearBindings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string]Handler)
}

// Emit sends an event stamped with a fresh correlation id and client
// timestamp, reporting success. When the connection is not Active it fails
// fast without retrying; the caller decides whether to queue the action
// offline. Transient transport errors are retried up to MaxRetries with
// RetryDelay between attempts.
func (d *Dispatcher) Emit(ctx context.Context, eventName string, payload any, opts EmitOptions) bool {
	env := models.NewEnvelope(eventName, uuid.NewString(), time.Now().UnixMilli(), payload)
	attempts := 1
	if opts.Retry && opts.MaxRetries > 0 {
		attempts += opts.MaxRetries
	}
	for i := 1; i <= attempts; i++ {
		err := d.mgr.Send(ctx, env)
		if err == nil {
			return true
		}
		if err == ErrNotConnected {
			logger.Log.Debug("emit_failed_offline", zap.String("event", eventName))
			return false
		}
		logger.Log.Warn("emit_failed", zap.String("event", eventName), zap.Int("attempt", i), zap.Error(err))
		if i < attempts {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}
