package client

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Client assembles the synchronization engine: connection manager, event
// dispatcher, offline action queue, message reconciler, and history fetcher.
// It is the surface an application embeds.
type Client struct {
	mgr     *Manager
	disp    *Dispatcher
	queue   *OfflineQueue
	rec     *Reconciler
	fetcher Fetcher

	pageSize int

	mu       sync.Mutex
	presence []models.PresenceEntry

	cancel context.CancelFunc
}

// NewClient wires the engine together. fetcher may be nil when the embedding
// application never needs history or resync (tests, fire-and-forget tools).
func NewClient(d Dialer, url string, creds Credentials, opts Options, fetcher Fetcher) *Client {
	mgr := NewManager(d, url, creds, opts)
	c := &Client{
		mgr:      mgr,
		disp:     NewDispatcher(mgr),
		queue:    NewOfflineQueue(),
		rec:      NewReconciler(creds.UserID, creds.DisplayName),
		fetcher:  fetcher,
		pageSize: 20,
	}
	mgr.OnActive(c.onActive)
	return c
}

// Open connects and blocks until the first Active state or a hard failure,
// then keeps dispatching inbound events until Close.
func (c *Client) Open(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.disp.Run(runCtx)
	if err := c.mgr.Open(ctx); err != nil {
		cancel()
		return err
	}
	return nil
}

// Close tears the engine down. It is safe to call before Open or more than
// once.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.mgr.Close()
}

// onActive runs on every entry into Active: bindings are re-established
// (they were cleared when the transport degraded), queued offline actions
// are replayed, and on a genuine reconnect the recent window is re-fetched
// so deltas missed while degraded are reconciled in.
func (c *Client) onActive(resync bool) {
	c.bind()
	ctx := context.Background()
	c.queue.Replay(ctx, c.disp)
	if resync {
		c.resync(ctx)
	}
}

func (c *Client) bind() {
	c.disp.Register(models.EvtMessageCreated, c.rec.ApplyInbound)
	c.disp.Register(models.EvtMessageEdited, c.rec.ApplyInbound)
	c.disp.Register(models.EvtMessageDeleted, c.rec.ApplyInbound)
	c.disp.Register(models.EvtReactionUpdated, c.rec.ApplyInbound)
	c.disp.Register(models.EvtPresenceUpdated, c.onPresence)
	c.disp.Register(models.EvtUserNotification, c.onNotification)
	c.disp.Register(models.EvtRateLimited, c.onRateLimited)
	c.disp.Register(models.EvtError, c.onServerError)
}

func (c *Client) resync(ctx context.Context) {
	if c.fetcher == nil {
		return
	}
	msgs, _, err := c.fetcher.FetchPage(ctx, 1, c.pageSize)
	if err != nil {
		logger.Log.Warn("resync_fetch_failed", zap.Error(err))
		return
	}
	c.rec.ApplyServerWindow(msgs)
	logger.Log.Info("resync_applied", zap.Int("window", len(msgs)))
}

// LoadInitial fetches the first page into the reconciler.
func (c *Client) LoadInitial(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	msgs, pg, err := c.fetcher.FetchPage(ctx, 1, c.pageSize)
	if err != nil {
		return err
	}
	c.rec.MergeOlderPage(msgs, pg)
	return nil
}

// LoadOlder fetches the next older page and merges it in. It reports whether
// more pages remain.
func (c *Client) LoadOlder(ctx context.Context) (bool, error) {
	if c.fetcher == nil {
		return false, nil
	}
	cur := c.rec.PageInfo()
	next := cur.CurrentPage + 1
	if cur.TotalPages > 0 && next > cur.TotalPages {
		return false, nil
	}
	msgs, pg, err := c.fetcher.FetchPage(ctx, next, c.pageSize)
	if err != nil {
		return false, err
	}
	c.rec.MergeOlderPage(msgs, pg)
	return pg.CurrentPage < pg.TotalPages, nil
}

// SendMessage submits a message: the reconciler gets an optimistic entry
// immediately, and if the connection is down the action is queued for replay
// instead of being lost.
func (c *Client) SendMessage(ctx context.Context, text, parentID string) {
	tempID := c.rec.ApplyOptimistic(text, parentID)
	payload := models.SendPayload{Text: text, TempID: tempID, ParentID: parentID}
	if !c.disp.Emit(ctx, models.EvtSend, payload, EmitOptions{}) {
		c.queue.Enqueue(models.EvtSend, payload)
	}
}

// EditMessage submits a text revision for one of the user's messages.
func (c *Client) EditMessage(ctx context.Context, messageID, newText string) {
	payload := models.EditPayload{MessageID: messageID, NewText: newText}
	if !c.disp.Emit(ctx, models.EvtEdit, payload, EmitOptions{}) {
		c.queue.Enqueue(models.EvtEdit, payload)
	}
}

// DeleteMessage submits a soft delete for one of the user's messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) {
	payload := models.DeletePayload{MessageID: messageID}
	if !c.disp.Emit(ctx, models.EvtDelete, payload, EmitOptions{}) {
		c.queue.Enqueue(models.EvtDelete, payload)
	}
}

// ToggleReaction submits a reaction toggle.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) {
	payload := models.ReactPayload{MessageID: messageID, Emoji: emoji}
	if !c.disp.Emit(ctx, models.EvtReact, payload, EmitOptions{}) {
		c.queue.Enqueue(models.EvtReact, payload)
	}
}

// Messages returns the reconciled collection in ascending timestamp order.
func (c *Client) Messages() []Entry { return c.rec.Messages() }

// OnChange registers the render callback.
func (c *Client) OnChange(cb func()) { c.rec.OnChange(cb) }

// Presence returns the last presence roster broadcast by the server.
func (c *Client) Presence() []models.PresenceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PresenceEntry, len(c.presence))
	copy(out, c.presence)
	return out
}

// State exposes the connection state for status indicators.
func (c *Client) State() State { return c.mgr.State() }

// OnStateChange registers a connection state callback.
func (c *Client) OnStateChange(cb func(State)) { c.mgr.OnStateChange(cb) }

// PendingOffline reports the number of actions awaiting replay.
func (c *Client) PendingOffline() int { return c.queue.Len() }

func (c *Client) onPresence(env models.Envelope) {
	var p models.PresenceUpdatedPayload
	if unmarshal(env, &p) {
		c.mu.Lock()
		c.presence = p.Users
		c.mu.Unlock()
	}
}

func (c *Client) onNotification(env models.Envelope) {
	var p models.UserNotificationPayload
	if unmarshal(env, &p) {
		logger.Log.Info("user_notification", zap.String("type", p.Type), zap.String("text", p.Text))
	}
}

func (c *Client) onRateLimited(env models.Envelope) {
	var p models.RateLimitedPayload
	if unmarshal(env, &p) {
		logger.Log.Warn("rate_limited",
			zap.String("event", p.EventType), zap.Int64("retry_after_ms", p.RetryAfterMs))
	}
}

func (c *Client) onServerError(env models.Envelope) {
	var p models.ErrorPayload
	if unmarshal(env, &p) {
		logger.Log.Warn("server_error", zap.String("code", p.Code), zap.String("message", p.Message))
	}
}

func unmarshal(env models.Envelope, v any) bool {
	return json.Unmarshal(env.Data, v) == nil
}

