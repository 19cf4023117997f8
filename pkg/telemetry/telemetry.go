// Package telemetry registers the server's prometheus collectors. The
// /metrics endpoint is wired in internal/app.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesCreated counts persisted messages, labeled by kind
	// ("message" or "reply").
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_created_total",
		Help: "Messages persisted by the message service.",
	}, []string{"kind"})

	MessagesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_edited_total",
		Help: "Successful message edits.",
	})

	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_deleted_total",
		Help: "Successful soft-deletes.",
	})

	ReactionsToggled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reactions_toggled_total",
		Help: "Reaction toggles applied.",
	})

	// SessionsActive tracks live websocket sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_sessions_active",
		Help: "Currently connected websocket sessions.",
	})

	// RateLimited counts rejected actions, labeled by event type.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_rate_limited_total",
		Help: "Actions rejected by the per-session rate governor.",
	}, []string{"event"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_auth_failures_total",
		Help: "Rejected authentication attempts across both surfaces.",
	})
)
