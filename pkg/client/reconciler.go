package client

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// seenCap bounds the memory of resolved server ids. It must exceed any
// realistic loaded window so a duplicate delivery for a message scrolled
// out of view is still recognized.
const seenCap = 4096

// Entry is one element of the reconciled collection: either a confirmed
// server message or a local optimistic placeholder awaiting confirmation.
type Entry struct {
	models.Message
	TempID       string `json:"tempId,omitempty"`
	IsOptimistic bool   `json:"isOptimistic,omitempty"`
}

// seenSet is a bounded insertion-ordered set of server ids.
type seenSet struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{cap: cap, set: make(map[string]struct{})}
}

func (s *seenSet) add(id string) {
	if _, ok := s.set[id]; ok {
		return
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.set[id]
	return ok
}

// Reconciler maintains the client's authoritative ordered message
// collection. Its effects are idempotent: duplicate deliveries are absorbed
// and deltas for unloaded messages are no-ops, so out-of-order arrival
// across reconnects cannot corrupt state.
type Reconciler struct {
	userID      string
	displayName string

	mu      sync.Mutex
	entries []Entry // ascending CreatedAt
	seen    *seenSet
	page    models.Pagination

	onChange func()
}

func NewReconciler(userID, displayName string) *Reconciler {
	return &Reconciler{
		userID:      userID,
		displayName: displayName,
		seen:        newSeenSet(seenCap),
	}
}

// OnChange registers the render callback fired after every visible change.
func (r *Reconciler) OnChange(cb func()) {
	r.mu.Lock()
	r.onChange = cb
	r.mu.Unlock()
}

// Messages returns a snapshot of the ordered collection.
func (r *Reconciler) Messages() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the collection size.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PageInfo returns the pagination cursor from the last merged page.
func (r *Reconciler) PageInfo() models.Pagination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

// ApplyOptimistic inserts a local placeholder for a just-submitted message
// so the UI responds without waiting on the round trip, and returns its
// tempId.
func (r *Reconciler) ApplyOptimistic(text, parentID string) string {
	tempID := uuid.NewString()
	e := Entry{
		Message: models.Message{
			ParentID:   parentID,
			AuthorID:   r.userID,
			AuthorName: r.displayName,
			Text:       text,
			CreatedAt:  time.Now().UTC().UnixNano(),
		},
		TempID:       tempID,
		IsOptimistic: true,
	}
	r.mu.Lock()
	r.insertOrdered(e)
	r.mu.Unlock()
	r.notify()
	return tempID
}

// ApplyInbound applies one server event. Unknown events are ignored.
func (r *Reconciler) ApplyInbound(env models.Envelope) {
	switch env.Event {
	case models.EvtMessageCreated:
		var p models.MessageCreatedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			r.applyCreated(p)
		}
	case models.EvtMessageEdited:
		var p models.MessageEditedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			r.applyReplace(p.Message)
		}
	case models.EvtReactionUpdated:
		var p models.ReactionUpdatedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			r.applyReplace(p.Message)
		}
	case models.EvtMessageDeleted:
		var p models.MessageDeletedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			r.applyDeleted(p.MessageID)
		}
	}
}

// applyCreated resolves a confirmed message against the local collection:
// swap a pending optimistic entry in place, absorb a duplicate, or insert
// a message originated by another client in timestamp order.
func (r *Reconciler) applyCreated(p models.MessageCreatedPayload) {
	m := p.Message
	r.mu.Lock()
	if p.TempID != "" {
		if i := r.findTemp(p.TempID); i >= 0 {
			r.entries[i] = Entry{Message: m}
			r.seen.add(m.ID)
			r.mu.Unlock()
			r.notify()
			return
		}
	}
	if r.seen.has(m.ID) {
		r.mu.Unlock()
		logger.Log.Debug("duplicate_message_dropped", zap.String("id", m.ID))
		return
	}
	r.seen.add(m.ID)
	r.insertOrdered(Entry{Message: m})
	r.mu.Unlock()
	r.notify()
}

// applyReplace swaps the stored copy of a message by id. An absent id is a
// no-op; the authoritative state arrives when that page is fetched.
func (r *Reconciler) applyReplace(m models.Message) {
	r.mu.Lock()
	i := r.findID(m.ID)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	r.entries[i] = Entry{Message: m}
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) applyDeleted(id string) {
	r.mu.Lock()
	i := r.findID(id)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	// mirror the server's masking locally
	r.entries[i].IsDeleted = true
	r.entries[i].Text = models.DeletedPlaceholder
	r.entries[i].EditHistory = nil
	r.mu.Unlock()
	r.notify()
}

// MergeOlderPage merges an older history page into the collection. Ids
// overlapping with already-loaded entries are deduplicated, keeping the
// newest-seen copy (the one from this fetch).
func (r *Reconciler) MergeOlderPage(msgs []models.Message, pg models.Pagination) {
	r.mu.Lock()
	for _, m := range msgs {
		r.upsert(m)
	}
	r.page = pg
	r.mu.Unlock()
	r.notify()
}

// ApplyServerWindow reconciles a re-fetched recent window after a
// reconnect. Upserts are idempotent, so messages present before the drop
// are not duplicated.
func (r *Reconciler) ApplyServerWindow(msgs []models.Message) {
	r.mu.Lock()
	for _, m := range msgs {
		r.upsert(m)
	}
	r.mu.Unlock()
	r.notify()
}

// upsert replaces the loaded copy of m or inserts it in timestamp order.
// Caller holds the lock.
func (r *Reconciler) upsert(m models.Message) {
	r.seen.add(m.ID)
	if i := r.findID(m.ID); i >= 0 {
		r.entries[i] = Entry{Message: m}
		return
	}
	r.insertOrdered(Entry{Message: m})
}

// insertOrdered places e by CreatedAt, keeping the collection ascending.
// Caller holds the lock.
func (r *Reconciler) insertOrdered(e Entry) {
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].CreatedAt > e.CreatedAt
	})
	r.entries = append(r.entries, Entry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

func (r *Reconciler) findID(id string) int {
	for i := range r.entries {
		if !r.entries[i].IsOptimistic && r.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) findTemp(tempID string) int {
	for i := range r.entries {
		if r.entries[i].IsOptimistic && r.entries[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}
