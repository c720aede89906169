// Package metrics exposes Prometheus counters for the chat relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsAdmitted counts requests that passed admission control.
	RequestsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carechat_requests_admitted_total",
		Help: "Requests admitted by the rate limiter.",
	})

	// RequestsRejected counts requests rejected with 429.
	RequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carechat_requests_rejected_total",
		Help: "Requests rejected by the rate limiter.",
	})

	// ChunksRelayed counts upstream chunks forwarded to callers.
	ChunksRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carechat_chunks_relayed_total",
		Help: "Upstream chunks forwarded on the primary stream.",
	})

	// TurnsCompleted counts chat turns that persisted a full reply.
	TurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carechat_turns_completed_total",
		Help: "Chat turns completed and archived.",
	})

	// TurnsFailed counts chat turns terminated before a reply was
	// archived, labeled by failure stage.
	TurnsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carechat_turns_failed_total",
		Help: "Chat turns that ended without an archived reply.",
	}, []string{"stage"})
)
