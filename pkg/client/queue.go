package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/pkg/logger"
)

// QueueEntry records one user action performed while disconnected. Exactly
// one entry exists per action; it is removed right after a successful send
// attempt, not after server acknowledgment. The queue guarantees
// at-least-once transmission and leaves end-to-end dedup to the reconciler.
type QueueEntry struct {
	EntryID    string
	ActionType string // send | edit | delete | react
	Payload    any
	CreatedAt  time.Time
}

// OfflineQueue is a FIFO of actions awaiting replay. Replay happens once
// per reconnection, in original submission order.
type OfflineQueue struct {
	mu      sync.Mutex
	entries []QueueEntry
}

func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{}
}

// Enqueue records an action and returns its entry id.
func (q *OfflineQueue) Enqueue(actionType string, payload any) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := QueueEntry{
		EntryID:    uuid.NewString(),
		ActionType: actionType,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	q.entries = append(q.entries, e)
	logger.Log.Info("action_queued_offline", zap.String("entry", e.EntryID), zap.String("action", actionType))
	return e.EntryID
}

// DequeueAll returns a copy of the queued entries in FIFO order.
func (q *OfflineQueue) DequeueAll() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Remove deletes the entry with the given id, preserving order.
func (q *OfflineQueue) Remove(entryID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.EntryID == entryID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Clear empties the queue.
func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

// Len reports the number of pending entries.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Replay transmits all pending entries in submission order through the
// dispatcher. Each entry is removed immediately after its send attempt
// succeeds; a failed entry is logged, kept for the next reconnect, and does
// not stop the remaining entries.
func (q *OfflineQueue) Replay(ctx context.Context, d *Dispatcher) {
	entries := q.DequeueAll()
	if len(entries) == 0 {
		return
	}
	logger.Log.Info("offline_replay_started", zap.Int("pending", len(entries)))
	for _, e := range entries {
		ok := d.Emit(ctx, e.ActionType, e.Payload, EmitOptions{Retry: true, MaxRetries: 2, RetryDelay: 200 * time.Millisecond})
		if !ok {
			logger.Log.Warn("offline_replay_entry_failed", zap.String("entry", e.EntryID), zap.String("action", e.ActionType))
			continue
		}
		q.Remove(e.EntryID)
	}
	logger.Log.Info("offline_replay_finished", zap.Int("remaining", q.Len()))
}
