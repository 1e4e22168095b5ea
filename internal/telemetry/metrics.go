// Package telemetry holds the Prometheus collectors for batch runs and downstream calls.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RowsProcessed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scout_rows_processed_total", Help: "Rows finished, by outcome"}, []string{"outcome"})
	RowDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scout_row_duration_seconds", Help: "Wall time spent on a single row", Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)})
	DownstreamRetry  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scout_downstream_retries_total", Help: "Retry decisions taken by the backoff client, by kind"}, []string{"kind"})
	DownstreamWait   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scout_downstream_wait_seconds_total", Help: "Seconds spent waiting between downstream attempts"})
	PayloadTruncated = prometheus.NewCounter(prometheus.CounterOpts{Name: "scout_payload_truncated_total", Help: "Request envelopes that had to be shrunk"})
	BatchRuns        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scout_batch_runs_total", Help: "Batch runs, by result"}, []string{"result"})
	RunInFlight      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scout_batch_inflight", Help: "1 while a batch run holds the lock"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RowsProcessed,
			RowDuration,
			DownstreamRetry,
			DownstreamWait,
			PayloadTruncated,
			BatchRuns,
			RunInFlight,
		)
	})
	return promhttp.Handler()
}
