package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func openTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(t.TempDir()))
	t.Cleanup(func() { require.NoError(t, Close()) })
}

func TestGetMessageNotFound(t *testing.T) {
	openTestDB(t)
	_, err := GetMessage("msg-0-000000")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, HasMessage("msg-0-000000"))
}

func TestSaveAndGet(t *testing.T) {
	openTestDB(t)
	m := models.Message{ID: "msg-1-000001", AuthorID: "alice", Text: "hi", CreatedAt: time.Now().UnixNano()}
	require.NoError(t, SaveMessage(m))

	got, err := GetMessage(m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Text, got.Text)
	require.Equal(t, m.AuthorID, got.AuthorID)
}

func TestListIDsNewestFirst(t *testing.T) {
	openTestDB(t)
	base := time.Now().UnixNano()
	for i := 0; i < 5; i++ {
		m := models.Message{
			ID:        fmt.Sprintf("msg-%d-%06d", base, i),
			AuthorID:  "alice",
			Text:      "hi",
			CreatedAt: base + int64(i),
		}
		require.NoError(t, SaveMessage(m))
	}
	ids, err := ListIDsNewestFirst()
	require.NoError(t, err)
	require.Len(t, ids, 5)
	for i := 0; i < 5; i++ {
		require.Equal(t, fmt.Sprintf("msg-%d-%06d", base, 4-i), ids[i])
	}
}

func TestListReplyIDsOldestFirst(t *testing.T) {
	openTestDB(t)
	base := time.Now().UnixNano()
	parent := models.Message{ID: "msg-1-000001", AuthorID: "alice", Text: "root", CreatedAt: base}
	require.NoError(t, SaveMessage(parent))
	for i := 0; i < 3; i++ {
		r := models.Message{
			ID:        fmt.Sprintf("msg-2-%06d", i),
			ParentID:  parent.ID,
			AuthorID:  "bob",
			Text:      "reply",
			CreatedAt: base + int64(i+1),
		}
		require.NoError(t, SaveMessage(r))
	}
	ids, err := ListReplyIDs(parent.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-2-000000", "msg-2-000001", "msg-2-000002"}, ids)

	// ids under a different parent never leak in
	ids, err = ListReplyIDs("msg-9-000009")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestUpdateMessageSerializesToggles(t *testing.T) {
	openTestDB(t)
	m := models.Message{ID: "msg-1-000001", AuthorID: "alice", Text: "hi", CreatedAt: time.Now().UnixNano()}
	require.NoError(t, SaveMessage(m))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := UpdateMessage(m.ID, func(m *models.Message) error {
				m.ToggleReaction("🎉", fmt.Sprintf("user-%d", i))
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := GetMessage(m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions["🎉"], n, "no toggle may be lost under concurrency")
}

func TestUpdateMessageAbortsOnError(t *testing.T) {
	openTestDB(t)
	m := models.Message{ID: "msg-1-000001", AuthorID: "alice", Text: "hi", CreatedAt: time.Now().UnixNano()}
	require.NoError(t, SaveMessage(m))

	boom := fmt.Errorf("boom")
	_, err := UpdateMessage(m.ID, func(m *models.Message) error {
		m.Text = "mutated"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := GetMessage(m.ID)
	require.NoError(t, err)
	require.Equal(t, "hi", got.Text, "a failed update must not persist")
}
