package client

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"chatsync/pkg/models"
)

// Transport is one physical bidirectional session. Implementations must be
// safe for one concurrent reader plus one concurrent writer.
type Transport interface {
	Send(ctx context.Context, env models.Envelope) error
	Receive(ctx context.Context) (models.Envelope, error)
	Close() error
}

// Dialer opens a fresh Transport. Each reconnection dials anew; a Transport
// is never reused after a failure.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials a real websocket endpoint.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, env models.Envelope) error {
	return wsjson.Write(ctx, t.conn, env)
}

func (t *wsTransport) Receive(ctx context.Context) (models.Envelope, error) {
	var env models.Envelope
	err := wsjson.Read(ctx, t.conn, &env)
	return env, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
