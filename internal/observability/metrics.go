package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the corpus service, organized
// by subsystem: query processing, provider searches, deduplication, and
// canonicalization. Metrics register against the provided registerer so tests
// can construct isolated instances.
type Metrics struct {
	// QueriesPrepared counts query preparation calls, labeled by outcome
	// ("deterministic", "fallback", "cache_hit").
	QueriesPrepared *prometheus.CounterVec

	// QueryConfidence observes the confidence of prepared queries.
	QueryConfidence prometheus.Histogram

	// FallbackAttempts counts LLM fallback rewrite attempts.
	FallbackAttempts prometheus.Counter

	// FallbackFailures counts LLM fallback rewrite failures.
	FallbackFailures prometheus.Counter

	// FallbackCircuitOpen counts requests skipped because the breaker was open.
	FallbackCircuitOpen prometheus.Counter

	// SearchesStarted counts searches initiated, labeled by provider.
	SearchesStarted *prometheus.CounterVec

	// SearchesFailed counts failed searches, labeled by provider.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes search duration in seconds, labeled by provider.
	SearchDuration *prometheus.HistogramVec

	// RecordsRetrieved counts usable records returned, labeled by provider.
	RecordsRetrieved *prometheus.CounterVec

	// ExpansionRecords counts records added by citation-graph expansion.
	ExpansionRecords prometheus.Counter

	// PipelineDegraded counts pipeline runs that reported degraded coverage.
	PipelineDegraded prometheus.Counter

	// DedupMerges counts fuzzy-dedup merges, labeled by strategy
	// ("doi", "title_exact", "title_fuzzy").
	DedupMerges *prometheus.CounterVec

	// CanonicalRuns counts canonicalization runs, labeled by mode and outcome.
	CanonicalRuns *prometheus.CounterVec

	// CanonicalRunDuration observes run duration in seconds, labeled by mode.
	CanonicalRunDuration *prometheus.HistogramVec

	// CanonicalElections counts canonical elections, labeled by reason.
	CanonicalElections *prometheus.CounterVec

	// QualityGateFailures counts runs discarded by the quality gate.
	QualityGateFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics under the given namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueriesPrepared: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "prepared_total",
			Help:      "Query preparation calls by outcome.",
		}, []string{"outcome"}),
		QueryConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "confidence",
			Help:      "Confidence of prepared queries.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.1, 10),
		}),
		FallbackAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fallback_attempts_total",
			Help:      "LLM fallback rewrite attempts.",
		}),
		FallbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fallback_failures_total",
			Help:      "LLM fallback rewrite failures.",
		}),
		FallbackCircuitOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fallback_circuit_open_total",
			Help:      "Fallback attempts skipped because the circuit breaker was open.",
		}),
		SearchesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "started_total",
			Help:      "Provider searches initiated.",
		}, []string{"source"}),
		SearchesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "failed_total",
			Help:      "Provider searches that failed after retries.",
		}, []string{"source"}),
		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Provider search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		RecordsRetrieved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "records_total",
			Help:      "Usable records returned by provider searches.",
		}, []string{"source"}),
		ExpansionRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "expansion_records_total",
			Help:      "Records appended by citation-graph expansion.",
		}),
		PipelineDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Pipeline runs with degraded coverage.",
		}),
		DedupMerges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "merges_total",
			Help:      "Fuzzy-dedup merges by matching strategy.",
		}, []string{"strategy"}),
		CanonicalRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "runs_total",
			Help:      "Canonicalization runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CanonicalRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "run_duration_seconds",
			Help:      "Canonicalization run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode"}),
		CanonicalElections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "elections_total",
			Help:      "Canonical elections by audit reason.",
		}, []string{"reason"}),
		QualityGateFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "quality_gate_failures_total",
			Help:      "Canonicalization runs discarded by the quality gate.",
		}),
	}
}
