package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/models"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is a scripted in-memory session. With autoAuth set it plays
// the server side of the handshake; rejectAuth answers every attempt with a
// failed ack instead.
type fakeTransport struct {
	autoAuth   bool
	rejectAuth bool

	mu        sync.Mutex
	sent      []models.Envelope
	incoming  chan models.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		autoAuth: true,
		incoming: make(chan models.Envelope, 64),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) Send(_ context.Context, env models.Envelope) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	t.mu.Lock()
	t.sent = append(t.sent, env)
	t.mu.Unlock()

	if env.Event == models.EvtAuthenticate {
		ack := models.AuthenticatedPayload{Success: true, SessionID: uuid.NewString()}
		if t.rejectAuth {
			ack = models.AuthenticatedPayload{Success: false, Reason: "bad token"}
		}
		if t.autoAuth || t.rejectAuth {
			t.incoming <- models.NewEnvelope(models.EvtAuthenticated, env.CorrelationID, time.Now().UnixMilli(), ack)
		}
	}
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) (models.Envelope, error) {
	select {
	case env := <-t.incoming:
		return env, nil
	case <-t.closed:
		return models.Envelope{}, errTransportClosed
	case <-ctx.Done():
		return models.Envelope{}, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// deliver injects a server event into the inbound stream.
func (t *fakeTransport) deliver(event string, data any) {
	t.incoming <- models.NewEnvelope(event, uuid.NewString(), time.Now().UnixMilli(), data)
}

// sentEvents returns the event names sent so far.
func (t *fakeTransport) sentEvents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, e := range t.sent {
		out[i] = e.Event
	}
	return out
}

func (t *fakeTransport) sentFrames() []models.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeDialer hands out transports from next, or fails when next returns nil.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	next  func(attempt int) *fakeTransport
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	next := d.next
	d.mu.Unlock()
	tr := next(n)
	if tr == nil {
		return nil, errors.New("dial refused")
	}
	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastOpts() Options {
	return Options{
		AuthTimeout:     200 * time.Millisecond,
		AuthAttempts:    3,
		AuthRetryDelay:  5 * time.Millisecond,
		BackoffBase:     2 * time.Millisecond,
		BackoffCap:      10 * time.Millisecond,
		MaxReconnects:   5,
		QuietResetAfter: time.Minute,
	}
}

func testCreds() Credentials {
	return Credentials{UserID: "alice", DisplayName: "Alice", Token: "alice:sig"}
}

func envelopeFor(t *testing.T, event string) models.Envelope {
	t.Helper()
	return models.NewEnvelope(event, uuid.NewString(), time.Now().UnixMilli(), nil)
}
