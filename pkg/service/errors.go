package service

import (
	"errors"

	"chatsync/pkg/store"
)

// Business-rule failures. Callers must never retry these automatically;
// they are surfaced to the initiating user.
var (
	// ErrInvalidArgument marks bad input (empty/oversized text, empty
	// query, malformed ids).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotAuthorized marks an ownership violation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound marks a missing referenced entity.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidState marks an operation against a message whose state
	// forbids it, e.g. editing a soft-deleted message.
	ErrInvalidState = errors.New("invalid state")
)
