// Package metrics defines the Prometheus metric collectors used by the
// vectorizer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the vectorizer.
type Metrics struct {
	DocumentsScanned    *prometheus.CounterVec
	VectorsDelivered    prometheus.Counter
	VocabularySize      prometheus.Gauge
	CorpusDocuments     prometheus.Gauge
	UpsertAttempts      prometheus.Histogram
	UpsertFailures      prometheus.Counter
	RetrieveFailures    prometheus.Counter
	PassDuration        *prometheus.HistogramVec
	RunsTotal           *prometheus.CounterVec
	ModelPublishesTotal *prometheus.CounterVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocumentsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorizer_documents_scanned_total",
				Help: "Documents read from the corpus, by pass.",
			},
			[]string{"pass"},
		),
		VectorsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vectorizer_vectors_delivered_total",
				Help: "Records accepted by the vector store.",
			},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vectorizer_vocabulary_size",
				Help: "Distinct tokens in the last frozen vocabulary.",
			},
		),
		CorpusDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vectorizer_corpus_documents",
				Help: "Non-blank documents counted by the last first pass.",
			},
		),
		UpsertAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectorizer_upsert_attempts",
				Help:    "Attempts needed per upsert sub-batch.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 11},
			},
		),
		UpsertFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vectorizer_upsert_failed_batches_total",
				Help: "Upsert sub-batches abandoned after exhausting retries.",
			},
		),
		RetrieveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vectorizer_payload_retrieve_failures_total",
				Help: "Payload retrieve chunks that failed.",
			},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vectorizer_pass_duration_seconds",
				Help:    "Wall time of each corpus pass.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"pass"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorizer_runs_total",
				Help: "Vectorization runs by outcome (completed, partial, empty, failed).",
			},
			[]string{"outcome"},
		),
		ModelPublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorizer_model_publishes_total",
				Help: "Vocabulary/IDF publications by status.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorizer_http_requests_total",
				Help: "Serve-mode HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vectorizer_http_request_duration_seconds",
				Help:    "Serve-mode HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vectorizer_http_requests_in_flight",
				Help: "Serve-mode HTTP requests being handled.",
			},
		),
	}

	reg.MustRegister(
		m.DocumentsScanned,
		m.VectorsDelivered,
		m.VocabularySize,
		m.CorpusDocuments,
		m.UpsertAttempts,
		m.UpsertFailures,
		m.RetrieveFailures,
		m.PassDuration,
		m.RunsTotal,
		m.ModelPublishesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
