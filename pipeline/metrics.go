package pipeline

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the pipeline's Prometheus collector. Long batch runs can
// expose it on an optional listen address for progress watching.
type Metrics struct {
	reg *prometheus.Registry

	EventsProcessed prometheus.Counter
	EventsRejected  prometheus.Counter
	Matched         prometheus.Counter
	Unmatched       *prometheus.CounterVec // reason label
	Partitions      prometheus.Counter
	ActiveWorkers   prometheus.Gauge

	PartitionDuration prometheus.Histogram
}

// NewMetrics builds a collector on its own registry so tests can hold
// several without collision.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitperf_events_processed_total",
			Help: "Observed events handed to the matcher.",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitperf_events_rejected_total",
			Help: "Raw events rejected during normalization.",
		}),
		Matched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitperf_events_matched_total",
			Help: "Events bound to a scheduled stop time.",
		}),
		Unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitperf_events_unmatched_total",
			Help: "Events left unmatched, by reason code.",
		}, []string{"reason"}),
		Partitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitperf_partitions_total",
			Help: "Partitions processed.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitperf_active_workers",
			Help: "Workers currently matching a partition.",
		}),
		PartitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitperf_partition_duration_seconds",
			Help:    "Match plus measure time per partition.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}
	reg.MustRegister(
		m.EventsProcessed, m.EventsRejected, m.Matched, m.Unmatched,
		m.Partitions, m.ActiveWorkers, m.PartitionDuration,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
