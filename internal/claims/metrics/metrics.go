// Package metrics provides Prometheus metrics for the claims indexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the ingestion, verification and resolver metrics.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// duplicate registration panics.
type Metrics struct {
	// Ingestion
	EventsTotal        *prometheus.CounterVec // Events by action and outcome
	ParseFailuresTotal *prometheus.CounterVec // Dropped records by reason
	IngestLag          *prometheus.HistogramVec

	// Verification
	VerdictsTotal        *prometheus.CounterVec // Final verdicts by scheme and verdict
	VerificationDuration *prometheus.HistogramVec
	VerifyQueueDepth     prometheus.Gauge
	VerifyQueueFull      prometheus.Counter // Submissions rejected by a full queue

	// Resolver cache
	ResolverHitsTotal     *prometheus.CounterVec // Hits by tier (memory, negative, shared)
	ResolverMissesTotal   prometheus.Counter
	ResolverUpstreamTotal *prometheus.CounterVec // Upstream calls by outcome
	ResolverEntries       prometheus.Gauge
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_ingest_events_total",
			Help: "Change-stream events handled by action and outcome",
		}, []string{"action", "outcome"}),

		ParseFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_ingest_parse_failures_total",
			Help: "Records dropped because they could not be parsed",
		}, []string{"reason"}),

		IngestLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claims_ingest_apply_duration_seconds",
			Help:    "Time to apply one event to the derived store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"action"}),

		VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_verify_verdicts_total",
			Help: "Final proof verdicts by proof type and verdict",
		}, []string{"proof_type", "verdict"}),

		VerificationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claims_verify_duration_seconds",
			Help:    "Duration of proof verification including identity resolution",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"proof_type"}),

		VerifyQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "claims_verify_queue_depth",
			Help: "Claims waiting for proof verification",
		}),

		VerifyQueueFull: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claims_verify_queue_full_total",
			Help: "Verification submissions left pending because the queue was full",
		}),

		ResolverHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_resolver_cache_hits_total",
			Help: "Identity resolver cache hits by tier",
		}, []string{"tier"}),

		ResolverMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claims_resolver_cache_misses_total",
			Help: "Identity resolver cache misses",
		}),

		ResolverUpstreamTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_resolver_upstream_total",
			Help: "Upstream identity resolutions by outcome",
		}, []string{"outcome"}),

		ResolverEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "claims_resolver_cache_entries",
			Help: "Identities held in the positive resolver cache",
		}),
	}
}

// RecordEvent counts a handled change-stream event.
func (m *Metrics) RecordEvent(action, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordParseFailure counts a dropped record.
func (m *Metrics) RecordParseFailure(reason string) {
	if m == nil {
		return
	}
	m.ParseFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveApply records the time spent applying one event.
func (m *Metrics) ObserveApply(action string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestLag.WithLabelValues(action).Observe(seconds)
}

// RecordVerdict counts a final verdict and its latency.
func (m *Metrics) RecordVerdict(proofType, verdict string, seconds float64) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(proofType, verdict).Inc()
	m.VerificationDuration.WithLabelValues(proofType).Observe(seconds)
}

// SetQueueDepth updates the verification queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.VerifyQueueDepth.Set(float64(n))
}

// RecordQueueFull counts a submission dropped by a full queue.
func (m *Metrics) RecordQueueFull() {
	if m == nil {
		return
	}
	m.VerifyQueueFull.Inc()
}

// RecordResolverHit counts a cache hit in the given tier.
func (m *Metrics) RecordResolverHit(tier string) {
	if m == nil {
		return
	}
	m.ResolverHitsTotal.WithLabelValues(tier).Inc()
}

// RecordResolverMiss counts a lookup that had to go upstream.
func (m *Metrics) RecordResolverMiss() {
	if m == nil {
		return
	}
	m.ResolverMissesTotal.Inc()
}

// RecordUpstream counts an upstream resolution outcome.
func (m *Metrics) RecordUpstream(outcome string) {
	if m == nil {
		return
	}
	m.ResolverUpstreamTotal.WithLabelValues(outcome).Inc()
}

// SetResolverEntries updates the positive cache size gauge.
func (m *Metrics) SetResolverEntries(n int) {
	if m == nil {
		return
	}
	m.ResolverEntries.Set(float64(n))
}
