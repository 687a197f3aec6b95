package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "flush_total",
		Help:      "Count of block flushes.",
	}, []string{"source", "status"})

	ingestFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "flush_duration_seconds",
		Help:      "Duration of persisting one block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source", "status"})

	ingestRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "rows_total",
		Help:      "Count of event rows by outcome.",
	}, []string{"source", "outcome"})

	ingestDecodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "decode_total",
		Help:      "Count of decoded logs by event kind and outcome.",
	}, []string{"source", "kind", "outcome"})

	ingestReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "reconnect_total",
		Help:      "Count of stream reconnect attempts.",
	}, []string{"source"})

	ingestBackoffSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "backoff_seconds",
		Help:      "Current reconnect delay.",
	}, []string{"source"})

	ingestLatestBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "latest_block",
		Help:      "Highest block observed on the stream.",
	}, []string{"source"})

	ingestCursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lcore_indexer",
		Subsystem: "ingest",
		Name:      "cursor_block",
		Help:      "Last fully persisted block.",
	}, []string{"source"})
)

// Ingest tracks metrics for the ingestion supervisor.
type Ingest struct{}

// NewIngest constructs an Ingest recorder.
func NewIngest() *Ingest {
	return &Ingest{}
}

// ObserveFlush records a block flush outcome and duration.
func (Ingest) ObserveFlush(source string, err error, inserted, duplicates int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ingestFlushTotal.WithLabelValues(source, status).Inc()
	ingestFlushDuration.WithLabelValues(source, status).Observe(time.Since(started).Seconds())
	if err != nil {
		return
	}
	ingestRowsTotal.WithLabelValues(source, "inserted").Add(float64(inserted))
	ingestRowsTotal.WithLabelValues(source, "duplicate").Add(float64(duplicates))
}

// ObserveDecode records one decoded log.
func (Ingest) ObserveDecode(source, kind, outcome string) {
	ingestDecodeTotal.WithLabelValues(source, kind, outcome).Inc()
}

// ObserveReconnect records a reconnect attempt and the delay before it.
func (Ingest) ObserveReconnect(source string, delay time.Duration) {
	ingestReconnectTotal.WithLabelValues(source).Inc()
	ingestBackoffSeconds.WithLabelValues(source).Set(delay.Seconds())
}

// SetLatestBlock records the highest block seen for a source.
func (Ingest) SetLatestBlock(source string, block uint64) {
	ingestLatestBlock.WithLabelValues(source).Set(float64(block))
}

// SetCursor records the persisted cursor for a source.
func (Ingest) SetCursor(source string, block uint64) {
	ingestCursorBlock.WithLabelValues(source).Set(float64(block))
}
