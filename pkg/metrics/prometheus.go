package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	listings    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	confidence  prometheus.Histogram
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		listings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_listings_total",
				Help: "Listings counted per pipeline stage and store",
			},
			[]string{"stage", "store"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_resolutions_total",
				Help: "Product resolution decisions by outcome",
			},
			[]string{"decision"},
		),
		confidence: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricepulse_match_confidence",
				Help:    "Similarity confidence behind resolution decisions",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricepulse_last_price_minor_units",
				Help: "Last observed price per product and store",
			},
			[]string{"product", "store"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFetched counts raw listings fetched for a store.
func (r *Recorder) RecordFetched(storeID string, n int) {
	r.listings.WithLabelValues("fetched", storeID).Add(float64(n))
}

// RecordNormalized counts listings that survived normalization.
func (r *Recorder) RecordNormalized(storeID string, n int) {
	r.listings.WithLabelValues("normalized", storeID).Add(float64(n))
}

// RecordResolved counts listings resolved to a product.
func (r *Recorder) RecordResolved(storeID string, n int) {
	r.listings.WithLabelValues("resolved", storeID).Add(float64(n))
}

// RecordSkipped counts malformed or unparseable listings dropped per item.
func (r *Recorder) RecordSkipped(storeID string, n int) {
	r.listings.WithLabelValues("skipped", storeID).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordResolution records a resolution decision and its confidence score.
func (r *Recorder) RecordResolution(decision string, confidence float64) {
	r.resolutions.WithLabelValues(decision).Inc()
	r.confidence.Observe(confidence)
}

// RecordLastPrice records the last observed price for a (product, store).
func (r *Recorder) RecordLastPrice(productID, storeID string, price int64) {
	r.lastPrice.WithLabelValues(productID, storeID).Set(float64(price))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
