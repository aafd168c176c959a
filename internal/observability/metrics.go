package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_provider_calls_total",
			Help: "Provider invocations by provider name, kind and outcome.",
		},
		[]string{"provider", "kind", "outcome"},
	)

	providerFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_provider_fallbacks_total",
			Help: "Fallback hops taken after a primary provider failure.",
		},
		[]string{"from", "to", "kind"},
	)

	indexLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_index_loads_total",
			Help: "Vector index load attempts by outcome (loaded, rejected).",
		},
		[]string{"outcome"},
	)

	indexRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_index_rebuilds_total",
			Help: "Full vector index rebuilds.",
		},
	)

	askDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_ask_duration_seconds",
			Help:    "End-to-end question handling latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		providerCallsTotal,
		providerFallbacksTotal,
		indexLoadsTotal,
		indexRebuildsTotal,
		askDurationSeconds,
	)
}

// RecordProviderCall counts one provider invocation.
func RecordProviderCall(provider, kind, outcome string) {
	providerCallsTotal.WithLabelValues(provider, kind, outcome).Inc()
}

// RecordFallback counts one fallback hop.
func RecordFallback(from, to, kind string) {
	providerFallbacksTotal.WithLabelValues(from, to, kind).Inc()
}

// RecordIndexLoad counts one index load attempt.
func RecordIndexLoad(outcome string) {
	indexLoadsTotal.WithLabelValues(outcome).Inc()
}

// RecordIndexRebuild counts one full rebuild.
func RecordIndexRebuild() {
	indexRebuildsTotal.Inc()
}

// ObserveAskDuration records the latency of one question.
func ObserveAskDuration(seconds float64) {
	askDurationSeconds.Observe(seconds)
}
