package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/util"
)

func init() {
	prometheus.MustRegister(MessagesAppended, BytesAppended, AppendFailures, SegmentsRolled)
	prometheus.MustRegister(Flushes, CommitLatency, SegmentsDestroyed, ReadHoldFailures)
	prometheus.MustRegister(MappedBytes, MappedFiles)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("[METRICS] Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("[METRICS] Failed to start metrics server: %v", err)
		}
	}()
}

// RecordAppend updates the append metrics for one stored message.
func RecordAppend(size int) {
	MessagesAppended.Inc()
	BytesAppended.Add(float64(size))
}

// RecordAppendFailure counts an append rejected with the given status.
func RecordAppendFailure(status segment.AppendStatus) {
	AppendFailures.WithLabelValues(status.String()).Inc()
}

// RecordCommit observes one commit pass. flushed reports whether any pages
// were synced.
func RecordCommit(elapsed time.Duration, flushed bool) {
	CommitLatency.Observe(elapsed.Seconds())
	if flushed {
		Flushes.Inc()
	}
}
