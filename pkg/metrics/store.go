package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/downfa11-org/cursus-store/pkg/segment"
)

var (
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_messages_appended_total",
		Help: "Total number of messages appended to the commit log",
	})

	BytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_bytes_appended_total",
		Help: "Total number of encoded bytes appended to the commit log",
	})

	AppendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_append_failures_total",
			Help: "Appends rejected by the store, by status",
		},
		[]string{"status"},
	)

	SegmentsRolled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_segments_rolled_total",
		Help: "Number of times a full segment was closed and a new one created",
	})

	Flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_flushes_total",
		Help: "Number of commits that synced dirty pages to disk",
	})

	CommitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_commit_latency_seconds",
		Help:    "Time spent committing a log to disk",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	SegmentsDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_segments_destroyed_total",
		Help: "Segments removed by retention",
	})

	ReadHoldFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_read_hold_failures_total",
		Help: "Reads that raced with a segment shutdown",
	})

	MappedBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "store_mapped_bytes",
		Help: "Bytes currently mapped by all open segments",
	}, func() float64 {
		return float64(segment.TotalMappedBytes())
	})

	MappedFiles = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "store_mapped_files",
		Help: "Number of segments currently mapped",
	}, func() float64 {
		return float64(segment.TotalMappedFiles())
	})
)
