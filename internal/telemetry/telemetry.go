// Package telemetry registers the Prometheus counters, gauges, and
// histograms the rest of the processor updates, and serves them on
// /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_events_total",
		Help: "Total number of events processed.",
	})

	EventsPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mercurystream_events_per_second",
		Help: "Current event throughput.",
	})

	LatencyMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mercurystream_latency_ms",
		Help:    "Ingest-to-receive age latency in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 75, 100, 150, 250, 500, 1000},
	})

	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercurystream_anomalies_total",
		Help: "Total anomalies detected, by detector type.",
	}, []string{"type"})

	IncidentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_incidents_total",
		Help: "Total incident bundles captured.",
	})

	IncidentCaptureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_incident_capture_failures_total",
		Help: "Total incident bundles abandoned due to filesystem errors.",
	})

	DropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mercurystream_drops_total",
		Help: "Total events dropped by the bus due to backpressure.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mercurystream_queue_depth",
		Help: "Current per-subscriber queue depth.",
	}, []string{"sub"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
