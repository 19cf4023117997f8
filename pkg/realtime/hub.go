// Package realtime implements the websocket surface: session lifecycle with
// an authentication handshake, event routing into the message service,
// presence broadcast and per-session rate limiting. One Hub instance owns
// the connection registry for the whole process.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"chatsync/pkg/auth"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

// Hub owns all live sessions. It is safe for concurrent use; every
// connection runs on its own goroutines and all shared registries are
// mutex-guarded.
type Hub struct {
	verifier auth.TokenVerifier
	cfg      config.RealtimeConfig
	cron     string
	limits   *limiterPool
	presence *presenceRegistry

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewHub builds a hub from the loaded configuration.
func NewHub(v auth.TokenVerifier, cfg *config.Config) *Hub {
	return &Hub{
		verifier: v,
		cfg:      cfg.Realtime,
		cron:     cfg.Security.RateLimit.CleanupCron,
		limits:   newLimiterPool(cfg.Security.RateLimit),
		presence: newPresenceRegistry(),
		sessions: make(map[string]*session),
	}
}

// Run starts background maintenance (rate-counter sweeping) until ctx is
// canceled, then closes every live session.
func (h *Hub) Run(ctx context.Context) {
	go h.limits.runSweeper(ctx, h.cron)
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	open := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()
	for _, s := range open {
		s.close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeHTTP upgrades the request and drives the session until disconnect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logger.Log.Warn("ws_accept_failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}
	conn.SetReadLimit(h.cfg.MaxFrameBytes.Int64())
	s := &session{
		hub:  h,
		conn: conn,
		out:  make(chan models.Envelope, h.cfg.OutboundBuffer),
		done: make(chan struct{}),
	}
	s.run(r.Context())
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.presence.add(models.PresenceEntry{SessionID: s.id, UserID: s.userID, DisplayName: s.displayName})
	telemetry.SessionsActive.Inc()
	h.broadcastPresence()
	h.notify("join", s.displayName+" joined the chat")
	logger.Log.Info("session_joined", zap.String("session", s.id), zap.String("user", s.userID))
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	_, present := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if !present {
		return
	}
	h.limits.dropSession(s.id)
	if _, ok := h.presence.remove(s.id); ok {
		telemetry.SessionsActive.Dec()
		h.broadcastPresence()
		h.notify("leave", s.displayName+" left the chat")
	}
	logger.Log.Info("session_left", zap.String("session", s.id), zap.String("user", s.userID))
}

// broadcast fans an envelope out to every authenticated session except the
// one named by skip (empty skips nobody).
func (h *Hub) broadcast(env models.Envelope, skip string) {
	h.mu.Lock()
	targets := make([]*session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id == skip {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.send(env)
	}
}

func (h *Hub) broadcastPresence() {
	env := models.NewEnvelope(models.EvtPresenceUpdated, "", now(),
		models.PresenceUpdatedPayload{Users: h.presence.snapshot()})
	h.broadcast(env, "")
}

func (h *Hub) notify(kind, text string) {
	env := models.NewEnvelope(models.EvtUserNotification, "", now(),
		models.UserNotificationPayload{Type: kind, Text: text})
	h.broadcast(env, "")
}

// SessionCount reports live sessions, for health/diagnostics.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func now() int64 { return time.Now().UTC().UnixNano() }
