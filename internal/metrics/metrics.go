// Package metrics bundles the Prometheus collectors for the offer
// admission pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all pipeline collectors on a dedicated registry. A
// nil *Metrics is valid and records nothing, so components can run
// without instrumentation in tests.
type Metrics struct {
	Registry           *prometheus.Registry
	OffersTotal        *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	DuplicatesTotal    *prometheus.CounterVec
	RateLimitHitsTotal *prometheus.CounterVec
	ValidationScore    prometheus.Histogram
	RetriesTotal       prometheus.Counter
	InFlight           prometheus.Gauge
}

// NewMetrics constructs and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	offers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_offers_total",
			Help: "Offers processed by terminal result.",
		},
		[]string{"result"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "End to end latency of one offer through the pipeline.",
			Buckets: prometheus.DefBuckets,
		},
	)
	duplicates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_duplicates_total",
			Help: "Duplicate offers by matching strategy.",
		},
		[]string{"strategy"},
	)
	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rate_limit_hits_total",
			Help: "Denied rate limit checks by resource.",
		},
		[]string{"resource"},
	)
	validationScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_validation_score",
			Help:    "Affiliate validation scores.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_retries_total",
			Help: "Retry attempts scheduled for rate limited offers.",
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_offers_in_flight",
			Help: "Offers currently being processed.",
		},
	)

	registry.MustRegister(offers, duration, duplicates, rateLimitHits, validationScore, retries, inFlight)

	return &Metrics{
		Registry:           registry,
		OffersTotal:        offers,
		ProcessingDuration: duration,
		DuplicatesTotal:    duplicates,
		RateLimitHitsTotal: rateLimitHits,
		ValidationScore:    validationScore,
		RetriesTotal:       retries,
		InFlight:           inFlight,
	}
}

// IncResult increments the offers counter for a terminal result.
func (m *Metrics) IncResult(result string) {
	if m == nil {
		return
	}
	m.OffersTotal.WithLabelValues(result).Inc()
}

// ObserveProcessing records one offer's end to end latency.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessingDuration.Observe(d.Seconds())
}

// IncDuplicate increments the duplicates counter for a strategy label.
func (m *Metrics) IncDuplicate(strategy string) {
	if m == nil {
		return
	}
	m.DuplicatesTotal.WithLabelValues(strategy).Inc()
}

// IncRateLimitHit increments the denied checks counter for a resource.
func (m *Metrics) IncRateLimitHit(resource string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(resource).Inc()
}

// ObserveValidationScore records an affiliate validation score.
func (m *Metrics) ObserveValidationScore(score float64) {
	if m == nil {
		return
	}
	m.ValidationScore.Observe(score)
}

// IncRetry increments the scheduled retries counter.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
