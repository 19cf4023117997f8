package client

import "errors"

var (
	// ErrNotConnected is returned by fail-fast emission when the
	// connection is not Active. Callers decide whether to queue offline.
	ErrNotConnected = errors.New("connection not active")

	// ErrAuthFailed is a hard authentication failure, distinct from a
	// transient network error; it is not retried by the manager.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrReconnectExhausted is surfaced once the reconnection attempt cap
	// is exceeded, instead of looping forever.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
