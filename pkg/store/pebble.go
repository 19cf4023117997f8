package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"

	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	msg:id:<id>                          canonical message JSON
//	msg:ts:<unix_nano_padded>-<seq>      -> id (insertion-order index)
//	msg:parent:<parentID>:<padded>-<seq> -> id (reply index)
//
// The ts/parent index entries are written once at creation; edits and
// deletes rewrite only the canonical key, so ordering never changes.
const (
	keyByID     = "msg:id:"
	keyByTS     = "msg:ts:"
	keyByParent = "msg:parent:"
)

// ErrNotFound is returned when a message id does not resolve.
var ErrNotFound = errors.New("message not found")

var db *pebble.DB

// seq reduces sort-key collisions when messages share a nanosecond timestamp.
var seq uint64

// mutMu serializes all read-modify-write updates. The store belongs to a
// single authoritative process, so this writer lock is the atomicity
// boundary for reaction toggles, edits and soft-deletes.
var mutMu sync.Mutex

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func sortKey(ts int64, s uint64) string {
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// SaveMessage persists a new message: canonical record, insertion-order
// index and, for replies, the parent index, all in one batch.
func SaveMessage(msg models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ts := msg.CreatedAt
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	sk := sortKey(ts, atomic.AddUint64(&seq, 1))

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(keyByID+msg.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(keyByTS+sk), []byte(msg.ID), nil); err != nil {
		return err
	}
	if msg.ParentID != "" {
		if err := b.Set([]byte(keyByParent+msg.ParentID+":"+sk), []byte(msg.ID), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Log.Error("save_message_failed", zap.String("id", msg.ID), zap.Error(err))
		return err
	}
	logger.Log.Info("message_saved", zap.String("id", msg.ID), zap.String("parent", msg.ParentID))
	return nil
}

// GetMessage loads the canonical record for id.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(keyByID + id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message %s: %w", id, err)
	}
	return m, nil
}

// HasMessage reports whether id resolves to a stored message.
func HasMessage(id string) bool {
	_, err := GetMessage(id)
	return err == nil
}

// UpdateMessage applies fn to the stored message under the store's writer
// lock and persists the result. Concurrent updates to the same message are
// serialized here, so fn sees the latest committed state; a lost update is
// not possible. fn returning an error aborts without writing.
func UpdateMessage(id string, fn func(*models.Message) error) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mutMu.Lock()
	defer mutMu.Unlock()

	m, err := GetMessage(id)
	if err != nil {
		return m, err
	}
	if err := fn(&m); err != nil {
		return m, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(keyByID+id), data, pebble.Sync); err != nil {
		logger.Log.Error("update_message_failed", zap.String("id", id), zap.Error(err))
		return m, err
	}
	logger.Log.Debug("message_updated", zap.String("id", id))
	return m, nil
}

// ListIDsNewestFirst returns all message ids in reverse insertion order.
func ListIDsNewestFirst() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyByTS),
		UpperBound: []byte(keyByTS + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for valid := iter.Last(); valid; valid = iter.Prev() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// ListReplyIDs returns the ids of direct replies to parentID in insertion
// (oldest-first) order.
func ListReplyIDs(parentID string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := keyByParent + parentID + ":"
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for valid := iter.First(); valid; valid = iter.Next() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// ScanMessages invokes fn for every stored message until fn returns false.
func ScanMessages(fn func(models.Message) bool) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyByID),
		UpperBound: []byte(keyByID + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Log.Warn("scan_skip_invalid_message", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		if !fn(m) {
			break
		}
	}
	return iter.Error()
}
