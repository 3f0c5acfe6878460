// Package metrics exposes Prometheus collectors for the streaming loop.
//
// All collectors live on one Metrics value created with New. Passing a nil
// registerer gives working but unregistered collectors, which is what tests
// and the inspection tool use.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nxstream"

// Fetch kinds and results used as label values.
const (
	KindGeometry = "geometry"
	KindTexture  = "texture"

	ResultOK     = "ok"
	ResultRetry  = "retry"
	ResultFailed = "failed"
)

// Metrics groups the cache, fetch, decode and traversal collectors.
type Metrics struct {
	ResidentBytes prometheus.Gauge // bytes charged to resident and pending nodes
	Pending       prometheus.Gauge // nodes with a fetch or decode in flight
	ReadyNodes    prometheus.Gauge
	CurrentError  prometheus.Gauge // adaptive target error in pixels
	Evictions     prometheus.Counter
	Drops         prometheus.Counter // nodes abandoned after failures

	Fetches    *prometheus.CounterVec // labels: kind, result
	FetchBytes prometheus.Counter

	Decodes       *prometheus.CounterVec // label: result
	DecodeLatency prometheus.Summary
	DecodeQueued  prometheus.Gauge

	Selected prometheus.Gauge // nodes in the last traversal cut
	Blocked  prometheus.Gauge
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResidentBytes: f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "cache", Name: "resident_bytes"}),
		Pending:       f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "cache", Name: "pending_nodes"}),
		ReadyNodes:    f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "cache", Name: "ready_nodes"}),
		CurrentError:  f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "cache", Name: "current_error"}),
		Evictions:     f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "evictions_total"}),
		Drops:         f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "drops_total"}),

		Fetches: f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: "fetch", Name: "requests_total"},
			[]string{"kind", "result"}),
		FetchBytes: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "fetch", Name: "bytes_total"}),

		Decodes:       f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: "decode", Name: "jobs_total"}, []string{"result"}),
		DecodeLatency: f.NewSummary(prometheus.SummaryOpts{Namespace: namespace, Subsystem: "decode", Name: "latency_seconds"}),
		DecodeQueued:  f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "decode", Name: "queued_jobs"}),

		Selected: f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "traversal", Name: "selected_nodes"}),
		Blocked:  f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "traversal", Name: "blocked_nodes"}),
	}
}

// Discard returns unregistered collectors.
func Discard() *Metrics {
	return New(nil)
}

// Fetched records one finished fetch attempt.
func (m *Metrics) Fetched(kind, result string, n int) {
	m.Fetches.WithLabelValues(kind, result).Inc()
	if n > 0 {
		m.FetchBytes.Add(float64(n))
	}
}

// Decoded records one finished decode job.
func (m *Metrics) Decoded(elapsed time.Duration, err error) {
	if err != nil {
		m.Decodes.WithLabelValues(ResultFailed).Inc()
		return
	}
	m.Decodes.WithLabelValues(ResultOK).Inc()
	m.DecodeLatency.Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
