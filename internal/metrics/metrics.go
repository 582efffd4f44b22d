// ABOUTME: Prometheus collectors for the chat pipeline, agent calls and HTTP surface
// ABOUTME: Registered on the default registry and served at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Message pipeline
	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_created_total",
			Help: "Messages persisted",
		},
		[]string{"author"}, // "human" or "agent"
	)

	BrokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broker_publishes_total",
			Help: "Envelopes handed to the broker",
		},
		[]string{"result"}, // "ok" or "error"
	)

	BridgeDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bridge_deliveries_total",
			Help: "Broker deliveries processed by the bridge",
		},
		[]string{"outcome"}, // "delivered", "malformed", "no_room", "duplicate"
	)

	BridgeStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bridge_step_failures_total",
			Help: "Bridge step failures",
		},
		[]string{"step"}, // "broadcast", "unread", "members", "notify"
	)

	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notifications_sent_total",
			Help: "Per-member notifications sent",
		},
	)

	// Agents
	AgentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_agent_outcomes_total",
			Help: "Agent branch outcomes",
		},
		[]string{"outcome"}, // "delivered", "throttled", "declined", "failed", "missing", "canceled"
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_llm_latency_seconds",
			Help:    "LLM completion latency",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	ContextTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_context_timeouts_total",
			Help: "Agent context assemblies abandoned at the deadline",
		},
	)

	// Worker pools
	PoolCallerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_pool_caller_runs_total",
			Help: "Tasks run on the submitting goroutine because the pool queue was full",
		},
		[]string{"pool"},
	)
)
