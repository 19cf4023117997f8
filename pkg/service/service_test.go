package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/validation"
)

func openTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { require.NoError(t, store.Close()) })
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	openTestDB(t)
	m, err := Create("alice", "Alice", "hello", "")
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	require.NotZero(t, m.CreatedAt)
	require.Equal(t, "alice", m.AuthorID)
	require.True(t, store.HasMessage(m.ID))
}

func TestCreateRejectsBadInput(t *testing.T) {
	openTestDB(t)
	_, err := Create("", "Alice", "hello", "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Create("alice", "Alice", "   ", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReplyThreading(t *testing.T) {
	openTestDB(t)
	root, err := Create("alice", "Alice", "root", "")
	require.NoError(t, err)

	reply, err := Reply("bob", "Bob", "first", root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, reply.ParentID)

	// threads are one level deep
	_, err = Reply("carol", "Carol", "nested", reply.ID)
	require.ErrorIs(t, err, ErrInvalidArgument)

	// unknown parent
	_, err = Reply("carol", "Carol", "orphan", "msg-0-000000")
	require.ErrorIs(t, err, ErrNotFound)

	// missing parent id
	_, err = Reply("carol", "Carol", "orphan", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEditOwnershipAndHistory(t *testing.T) {
	openTestDB(t)
	m, err := Create("alice", "Alice", "v1", "")
	require.NoError(t, err)

	_, err = Edit(m.ID, "bob", "hijacked")
	require.ErrorIs(t, err, ErrNotAuthorized)

	unchanged, err := Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", unchanged.Text)
	require.Empty(t, unchanged.EditHistory)

	got, err := Edit(m.ID, "alice", "v2")
	require.NoError(t, err)
	require.True(t, got.IsEdited)
	require.Equal(t, "v2", got.Text)
	require.Len(t, got.EditHistory, 1)
	require.Equal(t, "v1", got.EditHistory[0].PreviousText)

	got, err = Edit(m.ID, "alice", "v3")
	require.NoError(t, err)
	require.Len(t, got.EditHistory, 2)
	require.Equal(t, "v2", got.EditHistory[1].PreviousText)
}

func TestSoftDelete(t *testing.T) {
	openTestDB(t)
	m, err := Create("alice", "Alice", "secret", "")
	require.NoError(t, err)

	_, err = SoftDelete(m.ID, "bob")
	require.ErrorIs(t, err, ErrNotAuthorized)

	got, err := SoftDelete(m.ID, "alice")
	require.NoError(t, err)
	require.True(t, got.IsDeleted)

	// idempotent
	got, err = SoftDelete(m.ID, "alice")
	require.NoError(t, err)
	require.True(t, got.IsDeleted)

	// reads mask the stored text
	read, err := Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, models.DeletedPlaceholder, read.Text)
	require.Nil(t, read.EditHistory)

	// a deleted message can no longer change
	_, err = Edit(m.ID, "alice", "resurrect")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = ToggleReaction(m.ID, "bob", "🎉")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDeletedParentStillAnchorsThread(t *testing.T) {
	openTestDB(t)
	root, err := Create("alice", "Alice", "root", "")
	require.NoError(t, err)
	reply, err := Reply("bob", "Bob", "still here", root.ID)
	require.NoError(t, err)

	_, err = SoftDelete(root.ID, "alice")
	require.NoError(t, err)

	out, err := ListReplies(root.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, reply.ID, out[0].ID)

	feed, _, err := List(1, 20)
	require.NoError(t, err)
	require.Len(t, feed, 1, "a deleted root stays in the feed, masked")
	require.Equal(t, models.DeletedPlaceholder, feed[0].Text)
}

func TestToggleReactionRoundTrip(t *testing.T) {
	openTestDB(t)
	m, err := Create("alice", "Alice", "hello", "")
	require.NoError(t, err)

	got, err := ToggleReaction(m.ID, "bob", "🎉")
	require.NoError(t, err)
	require.True(t, got.HasReaction("🎉", "bob"))

	got, err = ToggleReaction(m.ID, "bob", "🎉")
	require.NoError(t, err)
	require.False(t, got.HasReaction("🎉", "bob"))

	_, err = ToggleReaction(m.ID, "bob", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ToggleReaction("msg-0-000000", "bob", "🎉")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListTopLevelNewestFirst(t *testing.T) {
	openTestDB(t)
	var roots []models.Message
	for i := 0; i < 5; i++ {
		m, err := Create("alice", "Alice", fmt.Sprintf("root %d", i), "")
		require.NoError(t, err)
		roots = append(roots, m)
	}
	_, err := Reply("bob", "Bob", "a reply", roots[0].ID)
	require.NoError(t, err)

	out, pg, err := List(1, 20)
	require.NoError(t, err)
	require.Len(t, out, 5, "replies are excluded from the feed")
	require.Equal(t, 5, pg.TotalItems)
	require.Equal(t, 1, pg.TotalPages)
	for i := range out {
		require.Equal(t, roots[4-i].ID, out[i].ID)
	}
}

func TestListPagination(t *testing.T) {
	openTestDB(t)
	for i := 0; i < 7; i++ {
		_, err := Create("alice", "Alice", fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}

	page1, pg, err := List(1, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.Equal(t, 7, pg.TotalItems)
	require.Equal(t, 3, pg.TotalPages)

	page3, pg, err := List(3, 3)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, 3, pg.CurrentPage)

	// past the end yields an empty page, not an error
	empty, _, err := List(9, 3)
	require.NoError(t, err)
	require.Empty(t, empty)

	// no id appears on two pages
	seen := map[string]bool{}
	for p := 1; p <= 3; p++ {
		msgs, _, err := List(p, 3)
		require.NoError(t, err)
		for _, m := range msgs {
			require.False(t, seen[m.ID], "id %s served twice", m.ID)
			seen[m.ID] = true
		}
	}
	require.Len(t, seen, 7)
}

func TestListReplies(t *testing.T) {
	openTestDB(t)
	root, err := Create("alice", "Alice", "root", "")
	require.NoError(t, err)
	var replies []models.Message
	for i := 0; i < 3; i++ {
		r, err := Reply("bob", "Bob", fmt.Sprintf("r%d", i), root.ID)
		require.NoError(t, err)
		replies = append(replies, r)
	}

	out, err := ListReplies(root.ID)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range out {
		require.Equal(t, replies[i].ID, out[i].ID, "replies read oldest-first")
	}

	_, err = ListReplies("msg-0-000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearch(t *testing.T) {
	openTestDB(t)
	_, err := Create("alice", "Alice", "pebble is a key value store", "")
	require.NoError(t, err)
	double, err := Create("bob", "Bob", "pebble pebble everywhere", "")
	require.NoError(t, err)
	gone, err := Create("carol", "Carol", "pebble gone soon", "")
	require.NoError(t, err)
	_, err = SoftDelete(gone.ID, "carol")
	require.NoError(t, err)

	out, pg, err := Search("PEBBLE", 1, 20)
	require.NoError(t, err)
	require.Len(t, out, 2, "deleted messages never match")
	require.Equal(t, 2, pg.TotalItems)
	require.Equal(t, double.ID, out[0].ID, "more occurrences rank first")

	_, _, err = Search("   ", 1, 20)
	require.ErrorIs(t, err, ErrInvalidArgument)

	none, pg, err := Search("zebra", 1, 20)
	require.NoError(t, err)
	require.Empty(t, none)
	require.Zero(t, pg.TotalItems)
}

func TestEditValidatesText(t *testing.T) {
	openTestDB(t)
	m, err := Create("alice", "Alice", "fine", "")
	require.NoError(t, err)

	_, err = Edit(m.ID, "alice", "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	long := make([]byte, 0, validation.MaxTextRunes+1)
	for i := 0; i <= validation.MaxTextRunes; i++ {
		long = append(long, 'a')
	}
	_, err = Edit(m.ID, "alice", string(long))
	require.ErrorIs(t, err, ErrInvalidArgument)
}
