// Package metrics holds the Prometheus collectors of the push service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomePartial  = "partial"
)

var (
	namespace = "pusher"

	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Gateway calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of gateway calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	chunkOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pusher",
			Name:      "chunks_total",
			Help:      "Chunks issued by batched pusher operations",
		},
		[]string{"op", "outcome"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Device deliveries by platform and result",
		},
		[]string{"platform", "result"},
	)

	prunedTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "pruned_tokens_total",
			Help:      "Tokens unbound after the platform reported them invalid",
		},
		[]string{"platform"},
	)

	commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "commands_total",
			Help:      "Pub/Sub push commands by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// ObserveGatewayCall records one gateway call.
func ObserveGatewayCall(op, outcome string, took time.Duration) {
	gatewayCalls.WithLabelValues(op, outcome).Inc()
	gatewayDuration.WithLabelValues(op).Observe(took.Seconds())
}

func ObserveChunk(op, outcome string) {
	chunkOutcomes.WithLabelValues(op, outcome).Inc()
}

func ObserveDeliveries(platform string, sent, failed int) {
	deliveries.WithLabelValues(platform, "sent").Add(float64(sent))
	deliveries.WithLabelValues(platform, "failed").Add(float64(failed))
}

func ObservePruned(platform string, n int) {
	prunedTokens.WithLabelValues(platform).Add(float64(n))
}

func ObserveCommand(kind, outcome string) {
	commands.WithLabelValues(kind, outcome).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
