package models

import "encoding/json"

// Event names on the real-time surface. Client -> server events carry user
// actions; server -> client events carry confirmed state.
const (
	EvtAuthenticate = "authenticate"
	EvtSubscribe    = "subscribe"
	EvtSend         = "send"
	EvtEdit         = "edit"
	EvtDelete       = "delete"
	EvtReact        = "react"

	EvtAuthenticated    = "authenticated"
	EvtSubscribed       = "subscribed"
	EvtMessageCreated   = "messageCreated"
	EvtMessageEdited    = "messageEdited"
	EvtMessageDeleted   = "messageDeleted"
	EvtReactionUpdated  = "reactionUpdated"
	EvtPresenceUpdated  = "presenceUpdated"
	EvtUserNotification = "userNotification"
	EvtRateLimited      = "rateLimited"
	EvtError            = "error"
)

// Envelope is the frame exchanged on the websocket. CorrelationID is stamped
// by the sender of an action and echoed on the resulting confirmation so the
// two can be matched for diagnostics and retry suppression.
type Envelope struct {
	Event         string          `json:"event"`
	CorrelationID string          `json:"correlationId,omitempty"`
	TS            int64           `json:"ts,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope. Marshal errors are impossible
// for the payload types below, so they are swallowed into an empty body.
func NewEnvelope(event, correlationID string, ts int64, data any) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Event: event, CorrelationID: correlationID, TS: ts, Data: raw}
}

type AuthenticatePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token,omitempty"`
}

type AuthenticatedPayload struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type SubscribePayload struct {
	Channels []string `json:"channels"`
}

type SubscribedPayload struct {
	Success  bool     `json:"success"`
	Channels []string `json:"channels,omitempty"`
}

type SendPayload struct {
	Text     string `json:"text"`
	TempID   string `json:"tempId,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

type EditPayload struct {
	MessageID string `json:"messageId"`
	NewText   string `json:"newText"`
}

type DeletePayload struct {
	MessageID string `json:"messageId"`
}

type ReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// MessageCreatedPayload echoes TempID only on the frame delivered to the
// originating session so its reconciler can swap the optimistic entry.
type MessageCreatedPayload struct {
	Message Message `json:"message"`
	TempID  string  `json:"tempId,omitempty"`
}

type MessageEditedPayload struct {
	Message Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

type ReactionUpdatedPayload struct {
	Message Message `json:"message"`
}

type PresenceUpdatedPayload struct {
	Users []PresenceEntry `json:"users"`
}

type UserNotificationPayload struct {
	Type string `json:"type"` // join | leave
	Text string `json:"text"`
}

type RateLimitedPayload struct {
	EventType    string `json:"eventType"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
