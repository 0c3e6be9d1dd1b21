// Package metrics provides Prometheus collectors for extraction, graph writes,
// queries and ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threatgraph"

var (
	// IndicatorsExtracted counts extracted indicator candidates.
	// Labels: type (domain, ipv4, social:telegram, ...)
	IndicatorsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicators_extracted_total",
			Help:      "Total number of indicator candidates extracted, by type",
		},
		[]string{"type"},
	)

	// StoreWrites counts graph store write primitives.
	// Labels: op (upsert_document, add_chunk, add_indicator, assign_campaign), result (success, error)
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of graph store writes",
		},
		[]string{"op", "result"},
	)

	// QueryDuration tracks query library and search latency.
	// Labels: op
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of graph queries and searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// DocumentsIngested counts ingested documents.
	// Labels: result (success, error)
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents processed by ingestion",
		},
		[]string{"result"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWrite counts one store write.
func RecordWrite(op string, err error) {
	StoreWrites.WithLabelValues(op, result(err)).Inc()
}

// RecordIngest counts one ingested document.
func RecordIngest(err error) {
	DocumentsIngested.WithLabelValues(result(err)).Inc()
}

// RecordExtracted counts one extracted candidate of the given type.
func RecordExtracted(typ string) {
	IndicatorsExtracted.WithLabelValues(typ).Inc()
}

// ObserveQuery records the time since start under op. Use with defer.
func ObserveQuery(op string, start time.Time) {
	QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
