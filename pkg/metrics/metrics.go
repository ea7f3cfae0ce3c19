package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Envelopes delivered to a sync channel receiver, by layer (local, pubsub, store) and type.
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_envelopes_received_total",
			Help: "Sync channel envelopes delivered to handlers",
		},
		[]string{"layer", "type"},
	)

	// Envelopes dropped before reaching handlers: malformed, duplicate, own_origin.
	EnvelopesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_envelopes_dropped_total",
			Help: "Sync channel envelopes dropped at the receiver",
		},
		[]string{"reason"},
	)

	EnvelopesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_envelopes_published_total",
			Help: "Sync channel envelopes published per layer",
		},
		[]string{"layer", "status"},
	)

	// Local cache snapshot applications. result: applied, stale
	CacheApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cache_applies_total",
			Help: "Local cache applyIfNewer outcomes",
		},
		[]string{"collection", "result"},
	)

	// result: success, rolled_back, forbidden, invalid
	MutationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_total",
			Help: "Mutation coordinator outcomes",
		},
		[]string{"operation", "result"},
	)

	MutationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_mutation_remote_seconds",
			Help:    "Remote dispatch latency of optimistic mutations",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_reconcile_duration_seconds",
			Help:    "Full refetch duration per collection",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"collection", "status"},
	)

	ChangeFeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_change_feed_events_total",
			Help: "Record store change feed events received",
		},
		[]string{"collection"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"command"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the change feed",
		},
		[]string{"status"},
	)
)

func RecordEnvelopeReceived(layer, typ string) {
	EnvelopesReceived.WithLabelValues(layer, typ).Inc()
}

func RecordEnvelopeDropped(reason string) {
	EnvelopesDropped.WithLabelValues(reason).Inc()
}

func RecordEnvelopePublished(layer string, err error) {
	EnvelopesPublished.WithLabelValues(layer, statusLabel(err)).Inc()
}

func RecordCacheApply(collection string, applied bool) {
	result := "stale"
	if applied {
		result = "applied"
	}
	CacheApplies.WithLabelValues(collection, result).Inc()
}

func RecordMutation(operation, result string) {
	MutationOutcomes.WithLabelValues(operation, result).Inc()
}

func RecordMutationLatency(operation string, duration time.Duration) {
	MutationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordReconcile(collection, status string, duration time.Duration) {
	ReconcileDuration.WithLabelValues(collection, status).Observe(duration.Seconds())
}

func RecordChangeFeedEvent(collection string) {
	ChangeFeedEvents.WithLabelValues(collection).Inc()
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery(command string) {
	SlowQueries.WithLabelValues(command).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordOutboxPublished(err error) {
	OutboxPublished.WithLabelValues(statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
