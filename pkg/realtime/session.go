package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/service"
	"chatsync/pkg/telemetry"
)

// maxAuthAttempts bounds failed authenticate frames before the session is
// closed; the client retries up to the same bound.
const maxAuthAttempts = 3

type session struct {
	hub  *Hub
	conn *websocket.Conn

	id          string
	userID      string
	displayName string

	out  chan models.Envelope
	done chan struct{}
	once sync.Once
}

// run performs the authentication handshake and then pumps frames until the
// connection drops. It returns when the session is fully torn down.
func (s *session) run(ctx context.Context) {
	defer s.close(websocket.StatusNormalClosure, "")

	if !s.handshake(ctx) {
		return
	}
	go s.writeLoop(ctx)

	// The ack must be the first queued frame: registration broadcasts the
	// join (presence, notification) and those frames may not precede the
	// handshake result on the wire.
	s.send(models.NewEnvelope(models.EvtAuthenticated, "", now(),
		models.AuthenticatedPayload{Success: true, SessionID: s.id}))
	if !s.hub.register(s) {
		return
	}
	defer s.hub.unregister(s)

	s.readLoop(ctx)
}

// handshake requires an authenticate frame within the configured timeout.
// Failed attempts get a non-success ack and may retry up to maxAuthAttempts.
func (s *session) handshake(ctx context.Context) bool {
	deadline := s.hub.cfg.AuthTimeout.Duration()
	for attempt := 1; attempt <= maxAuthAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, deadline)
		env, err := s.read(actx)
		cancel()
		if err != nil {
			logger.Log.Warn("ws_auth_timeout", zap.Error(err))
			return false
		}
		if env.Event != models.EvtAuthenticate {
			s.writeDirect(ctx, models.NewEnvelope(models.EvtAuthenticated, env.CorrelationID, now(),
				models.AuthenticatedPayload{Success: false, Reason: "authenticate required"}))
			continue
		}
		var p models.AuthenticatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			telemetry.AuthFailures.Inc()
			s.writeDirect(ctx, models.NewEnvelope(models.EvtAuthenticated, env.CorrelationID, now(),
				models.AuthenticatedPayload{Success: false, Reason: "malformed payload"}))
			continue
		}
		token := p.Token
		if token == "" {
			token = p.UserID
		}
		userID, ok := s.hub.verifier.Verify(token)
		if !ok || (p.UserID != "" && p.UserID != userID) {
			telemetry.AuthFailures.Inc()
			logger.Log.Warn("ws_auth_rejected", zap.String("claimed_user", p.UserID))
			s.writeDirect(ctx, models.NewEnvelope(models.EvtAuthenticated, env.CorrelationID, now(),
				models.AuthenticatedPayload{Success: false, Reason: "invalid credentials"}))
			continue
		}
		s.id = uuid.NewString()
		s.userID = userID
		s.displayName = p.DisplayName
		if s.displayName == "" {
			s.displayName = userID
		}
		return true
	}
	return false
}

func (s *session) readLoop(ctx context.Context) {
	for {
		env, err := s.read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger.Log.Debug("ws_read_ended", zap.String("session", s.id), zap.Error(err))
			}
			return
		}
		s.handle(env)
	}
}

func (s *session) read(ctx context.Context) (models.Envelope, error) {
	var env models.Envelope
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	return env, nil
}

// handle routes one inbound action. Rate limiting happens before the
// service call; a limited action is rejected with a retry hint and the
// session stays connected.
func (s *session) handle(env models.Envelope) {
	switch env.Event {
	case models.EvtAuthenticate:
		// already authenticated; re-ack idempotently
		s.send(models.NewEnvelope(models.EvtAuthenticated, env.CorrelationID, now(),
			models.AuthenticatedPayload{Success: true, SessionID: s.id}))
		return
	case models.EvtSubscribe:
		var p models.SubscribePayload
		_ = json.Unmarshal(env.Data, &p)
		s.send(models.NewEnvelope(models.EvtSubscribed, env.CorrelationID, now(),
			models.SubscribedPayload{Success: true, Channels: p.Channels}))
		return
	case models.EvtSend, models.EvtEdit, models.EvtDelete, models.EvtReact:
	default:
		s.sendError(env.CorrelationID, "unknown_event", "unsupported event: "+env.Event)
		return
	}

	if retryAfter, ok := s.hub.limits.allow(s.id, env.Event); !ok {
		telemetry.RateLimited.WithLabelValues(env.Event).Inc()
		logger.Log.Warn("action_rate_limited", zap.String("session", s.id), zap.String("event", env.Event))
		s.send(models.NewEnvelope(models.EvtRateLimited, env.CorrelationID, now(), models.RateLimitedPayload{
			EventType:    env.Event,
			RetryAfterMs: retryAfter.Milliseconds(),
		}))
		return
	}

	switch env.Event {
	case models.EvtSend:
		s.handleSend(env)
	case models.EvtEdit:
		s.handleEdit(env)
	case models.EvtDelete:
		s.handleDelete(env)
	case models.EvtReact:
		s.handleReact(env)
	}
}

func (s *session) handleSend(env models.Envelope) {
	var p models.SendPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.sendError(env.CorrelationID, "invalid_argument", "malformed send payload")
		return
	}
	m, err := service.Create(s.userID, s.displayName, p.Text, p.ParentID)
	if err != nil {
		s.sendServiceError(env.CorrelationID, err)
		return
	}
	kind := "message"
	if m.ParentID != "" {
		kind = "reply"
	}
	telemetry.MessagesCreated.WithLabelValues(kind).Inc()

	// The originating session gets the tempId echoed so its reconciler can
	// swap the optimistic entry in place; everyone else gets the plain event.
	s.send(models.NewEnvelope(models.EvtMessageCreated, env.CorrelationID, now(),
		models.MessageCreatedPayload{Message: m.Redacted(), TempID: p.TempID}))
	s.hub.broadcast(models.NewEnvelope(models.EvtMessageCreated, "", now(),
		models.MessageCreatedPayload{Message: m.Redacted()}), s.id)
}

func (s *session) handleEdit(env models.Envelope) {
	var p models.EditPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.sendError(env.CorrelationID, "invalid_argument", "malformed edit payload")
		return
	}
	m, err := service.Edit(p.MessageID, s.userID, p.NewText)
	if err != nil {
		s.sendServiceError(env.CorrelationID, err)
		return
	}
	telemetry.MessagesEdited.Inc()
	s.send(models.NewEnvelope(models.EvtMessageEdited, env.CorrelationID, now(),
		models.MessageEditedPayload{Message: m.Redacted()}))
	s.hub.broadcast(models.NewEnvelope(models.EvtMessageEdited, "", now(),
		models.MessageEditedPayload{Message: m.Redacted()}), s.id)
}

func (s *session) handleDelete(env models.Envelope) {
	var p models.DeletePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.sendError(env.CorrelationID, "invalid_argument", "malformed delete payload")
		return
	}
	if _, err := service.SoftDelete(p.MessageID, s.userID); err != nil {
		s.sendServiceError(env.CorrelationID, err)
		return
	}
	telemetry.MessagesDeleted.Inc()
	s.send(models.NewEnvelope(models.EvtMessageDeleted, env.CorrelationID, now(),
		models.MessageDeletedPayload{MessageID: p.MessageID}))
	s.hub.broadcast(models.NewEnvelope(models.EvtMessageDeleted, "", now(),
		models.MessageDeletedPayload{MessageID: p.MessageID}), s.id)
}

func (s *session) handleReact(env models.Envelope) {
	var p models.ReactPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		s.sendError(env.CorrelationID, "invalid_argument", "malformed react payload")
		return
	}
	m, err := service.ToggleReaction(p.MessageID, s.userID, p.Emoji)
	if err != nil {
		s.sendServiceError(env.CorrelationID, err)
		return
	}
	telemetry.ReactionsToggled.Inc()
	s.send(models.NewEnvelope(models.EvtReactionUpdated, env.CorrelationID, now(),
		models.ReactionUpdatedPayload{Message: m.Redacted()}))
	s.hub.broadcast(models.NewEnvelope(models.EvtReactionUpdated, "", now(),
		models.ReactionUpdatedPayload{Message: m.Redacted()}), s.id)
}

func (s *session) sendServiceError(correlationID string, err error) {
	code := "internal"
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		code = "invalid_argument"
	case errors.Is(err, service.ErrNotAuthorized):
		code = "not_authorized"
	case errors.Is(err, service.ErrNotFound):
		code = "not_found"
	case errors.Is(err, service.ErrInvalidState):
		code = "invalid_state"
	}
	s.sendError(correlationID, code, err.Error())
}

func (s *session) sendError(correlationID, code, msg string) {
	s.send(models.NewEnvelope(models.EvtError, correlationID, now(),
		models.ErrorPayload{Code: code, Message: msg}))
}

// send queues an envelope for delivery. A session whose outbound buffer is
// full is disconnected rather than allowed to block the hub.
func (s *session) send(env models.Envelope) {
	select {
	case <-s.done:
	case s.out <- env:
	default:
		logger.Log.Warn("session_outbound_overflow", zap.String("session", s.id))
		s.close(websocket.StatusPolicyViolation, "client too slow")
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ping := time.NewTicker(s.hub.cfg.PingInterval.Duration())
	defer ping.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case env := <-s.out:
			if err := s.writeDirect(ctx, env); err != nil {
				s.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.close(websocket.StatusAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// writeDirect marshals through a pooled buffer to keep per-frame
// allocations off the hot path.
func (s *session) writeDirect(ctx context.Context, env models.Envelope) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(env); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, buf.Bytes())
}

func (s *session) close(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
	})
}
