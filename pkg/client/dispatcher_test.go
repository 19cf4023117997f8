package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
)

func TestRegisterFirstWins(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	disp := NewDispatcher(NewManager(d, "ws://test", testCreds(), fastOpts()))

	calls := 0
	unreg := disp.Register("messageCreated", func(models.Envelope) { calls++ })
	require.True(t, disp.Registered("messageCreated"))

	// duplicate registration is ignored and its unregister is inert
	dupUnreg := disp.Register("messageCreated", func(models.Envelope) { t.Fatal("duplicate handler must never run") })
	dupUnreg()
	require.True(t, disp.Registered("messageCreated"), "inert unregister must not remove the original")

	unreg()
	require.False(t, disp.Registered("messageCreated"))
	require.Zero(t, calls)
}

func TestDispatchesInboundEvents(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{next: func(int) *fakeTransport { return tr }}
	mgr := NewManager(d, "ws://test", testCreds(), fastOpts())
	disp := NewDispatcher(mgr)

	got := make(chan models.Envelope, 1)
	disp.Register(models.EvtMessageCreated, func(env models.Envelope) { got <- env })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	require.NoError(t, mgr.Open(context.Background()))
	defer mgr.Close()

	tr.deliver(models.EvtMessageCreated, models.MessageCreatedPayload{
		Message: models.Message{ID: "msg-1-000001", Text: "hi", CreatedAt: 1},
	})

	select {
	case env := <-got:
		require.Equal(t, models.EvtMessageCreated, env.Event)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestBindingsClearedOnDegrade(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	d := &fakeDialer{next: func(attempt int) *fakeTransport {
		if attempt == 1 {
			return first
		}
		return second
	}}
	mgr := NewManager(d, "ws://test", testCreds(), fastOpts())
	disp := NewDispatcher(mgr)
	disp.Register("messageCreated", func(models.Envelope) {})

	degraded := make(chan struct{}, 1)
	mgr.OnStateChange(func(s State) {
		if s == StateDegraded {
			degraded <- struct{}{}
		}
	})

	require.NoError(t, mgr.Open(context.Background()))
	defer mgr.Close()

	_ = first.Close()
	select {
	case <-degraded:
	case <-time.After(time.Second):
		t.Fatal("never degraded")
	}
	require.False(t, disp.Registered("messageCreated"), "a degraded transport invalidates bindings")
}

func TestEmitStampsCorrelation(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{next: func(int) *fakeTransport { return tr }}
	mgr := NewManager(d, "ws://test", testCreds(), fastOpts())
	disp := NewDispatcher(mgr)

	require.NoError(t, mgr.Open(context.Background()))
	defer mgr.Close()

	ok := disp.Emit(context.Background(), models.EvtSend, models.SendPayload{Text: "hi"}, EmitOptions{})
	require.True(t, ok)

	frames := tr.sentFrames()
	var found bool
	for _, f := range frames {
		if f.Event == models.EvtSend {
			found = true
			require.NotEmpty(t, f.CorrelationID)
			require.NotZero(t, f.TS)
		}
	}
	require.True(t, found)
}

func TestEmitFailsFastOffline(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return nil }}
	disp := NewDispatcher(NewManager(d, "ws://test", testCreds(), fastOpts()))

	start := time.Now()
	ok := disp.Emit(context.Background(), models.EvtSend, models.SendPayload{Text: "hi"},
		EmitOptions{Retry: true, MaxRetries: 5, RetryDelay: time.Second})
	require.False(t, ok)
	require.Less(t, time.Since(start), 500*time.Millisecond, "offline emit must not sit in the retry loop")
}
