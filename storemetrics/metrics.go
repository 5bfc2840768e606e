// Package storemetrics instruments store.Buffer with Prometheus
// counters and histograms, grounded on
// DBAShand-cdc-sink-redshift's internal/staging/stage/metrics.go
// (promauto counter/histogram pairs per stage, keyed by a label).
package storemetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bufferedRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "noworkflow_store_buffered_records",
		Help: "number of records currently held by a store buffer, flushed or not",
	}, []string{"kind"})

	flushedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noworkflow_store_flushed_records_total",
		Help: "number of records drained from a store buffer to the persistence layer",
	}, []string{"kind", "partial"})

	flushDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "noworkflow_store_flush_duration_seconds",
		Help:    "time spent draining a store buffer to the persistence layer",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "partial"})
)

// Prometheus implements store.Recorder by reporting to the default
// Prometheus registry via promauto.
type Prometheus struct{}

// ObserveBuffered records the current size of a buffer.
func (Prometheus) ObserveBuffered(kind string, total int) {
	bufferedRecords.WithLabelValues(kind).Set(float64(total))
}

// ObserveFlush records a completed flush of drained records.
func (Prometheus) ObserveFlush(kind string, drained int, partial bool) {
	label := partialLabel(partial)
	flushedRecordsTotal.WithLabelValues(kind, label).Add(float64(drained))
}

// Timer starts a flush-duration observation; call Observe(kind, partial)
// on the returned stopwatch when the flush completes.
func Timer() *Stopwatch {
	return &Stopwatch{start: time.Now()}
}

// Stopwatch measures one flush's wall-clock duration.
type Stopwatch struct {
	start time.Time
}

// Observe records the elapsed time against the flush-duration histogram.
func (s *Stopwatch) Observe(kind string, partial bool) {
	flushDurations.WithLabelValues(kind, partialLabel(partial)).Observe(time.Since(s.start).Seconds())
}

func partialLabel(partial bool) string {
	if partial {
		return "true"
	}
	return "false"
}
