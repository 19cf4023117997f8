package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

type fakeFetcher struct {
	calls    atomic.Int32
	messages []models.Message
	pg       models.Pagination
}

func (f *fakeFetcher) FetchPage(context.Context, int, int) ([]models.Message, models.Pagination, error) {
	f.calls.Add(1)
	return f.messages, f.pg, nil
}

func TestSendMessageOfflineQueuesAndStaysOptimistic(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	c.SendMessage(context.Background(), "hello from the tunnel", "")

	require.Equal(t, 1, c.PendingOffline(), "offline sends are queued, not dropped")
	got := c.Messages()
	require.Len(t, got, 1)
	require.True(t, got[0].IsOptimistic)
	require.Equal(t, "hello from the tunnel", got[0].Text)
	require.Equal(t, "alice", got[0].AuthorID)
}

func TestEditOfflineQueuesWithoutOptimisticEntry(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	c.EditMessage(context.Background(), "msg-1-000001", "new text")
	c.DeleteMessage(context.Background(), "msg-1-000002")
	c.ToggleReaction(context.Background(), "msg-1-000003", "🎉")

	require.Equal(t, 3, c.PendingOffline())
	require.Empty(t, c.Messages(), "only sends render optimistically")
}

func TestResyncFetchesOnlyOnReconnect(t *testing.T) {
	f := &fakeFetcher{messages: []models.Message{
		{ID: "msg-1-000001", AuthorID: "bob", Text: "missed this", CreatedAt: 100},
	}}
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), f)

	c.onActive(false)
	require.Zero(t, f.calls.Load(), "first activation does not resync")

	c.onActive(true)
	require.Equal(t, int32(1), f.calls.Load(), "a reconnect resyncs exactly once")
	got := c.Messages()
	require.Len(t, got, 1)
	require.Equal(t, "msg-1-000001", got[0].ID)
}

func TestLoadInitialAndOlder(t *testing.T) {
	f := &fakeFetcher{
		messages: []models.Message{
			{ID: "msg-1-000002", AuthorID: "bob", Text: "b", CreatedAt: 200},
			{ID: "msg-1-000001", AuthorID: "bob", Text: "a", CreatedAt: 100},
		},
		pg: models.NewPagination(4, 1, 2),
	}
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), f)

	require.NoError(t, c.LoadInitial(context.Background()))
	require.Len(t, c.Messages(), 2)

	f.messages = []models.Message{
		{ID: "msg-0-000002", AuthorID: "bob", Text: "older b", CreatedAt: 20},
		{ID: "msg-0-000001", AuthorID: "bob", Text: "older a", CreatedAt: 10},
	}
	f.pg = models.NewPagination(4, 2, 2)

	more, err := c.LoadOlder(context.Background())
	require.NoError(t, err)
	require.False(t, more, "page 2 of 2 is the last")

	got := c.Messages()
	require.Len(t, got, 4)
	require.Equal(t, "msg-0-000001", got[0].ID, "older pages land before the loaded window")
}

func TestPresenceRoster(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	c.onPresence(models.NewEnvelope(models.EvtPresenceUpdated, "", 0, models.PresenceUpdatedPayload{
		Users: []models.PresenceEntry{
			{SessionID: "s1", UserID: "alice", DisplayName: "Alice"},
			{SessionID: "s2", UserID: "bob", DisplayName: "Bob"},
		},
	}))

	roster := c.Presence()
	require.Len(t, roster, 2)
	require.Equal(t, "bob", roster[1].UserID)
}

func TestPresenceVisibleAfterJoin(t *testing.T) {
	tr := newFakeTransport()
	// replay the join order as the server writes it: the membership
	// broadcast triggered by registration lands ahead of the handshake ack
	tr.deliver(models.EvtPresenceUpdated, models.PresenceUpdatedPayload{
		Users: []models.PresenceEntry{
			{SessionID: "s1", UserID: "alice", DisplayName: "Alice"},
			{SessionID: "s2", UserID: "bob", DisplayName: "Bob"},
		},
	})
	tr.deliver(models.EvtUserNotification, models.UserNotificationPayload{Type: "join", Text: "Alice joined the chat"})
	d := &fakeDialer{next: func(int) *fakeTransport { return tr }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return len(c.Presence()) == 2
	}, time.Second, 5*time.Millisecond, "a fresh join must see the current roster, not an empty one")
}

func TestCloseBeforeOpenIsSafe(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	c.Close()
	c.Close()
	require.Equal(t, StateDisconnected, c.State())
}

func TestClientEndToEndOverFakeTransport(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{next: func(int) *fakeTransport { return tr }}
	c := NewClient(d, "ws://test", testCreds(), fastOpts(), nil)

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	require.Equal(t, StateActive, c.State())

	c.SendMessage(context.Background(), "direct", "")
	require.Zero(t, c.PendingOffline(), "an online send goes straight out")

	got := c.Messages()
	require.Len(t, got, 1)
	require.True(t, got[0].IsOptimistic, "pending until the server confirms")
}
