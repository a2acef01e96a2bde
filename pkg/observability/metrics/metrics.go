package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
)

var (
	queueLength        atomic.Int64
	queueProcessing    atomic.Int64
	queueMaxConcurrent atomic.Int64

	sseActive      atomic.Int64
	sseTotal       atomic.Int64
	sseEventsSent  atomic.Int64
	sseDropped     atomic.Int64
	sseLatencyBits atomic.Uint64

	sinkPublished atomic.Int64
	sinkDropped   atomic.Int64
)

func ObserveQueue(length, processing, maxConcurrent int) {
	queueLength.Store(int64(length))
	queueProcessing.Store(int64(processing))
	queueMaxConcurrent.Store(int64(maxConcurrent))
}

func ObserveNotifications(active int, total, sent, dropped int64, avgLatencyMs float64) {
	sseActive.Store(int64(active))
	sseTotal.Store(total)
	sseEventsSent.Store(sent)
	sseDropped.Store(dropped)
	sseLatencyBits.Store(math.Float64bits(avgLatencyMs))
}

func ObserveSink(published, dropped int64) {
	sinkPublished.Store(published)
	sinkDropped.Store(dropped)
}

type gauge struct {
	name  string
	help  string
	value func() string
}

func intValue(v *atomic.Int64) func() string {
	return func() string { return fmt.Sprintf("%d", v.Load()) }
}

var gauges = []gauge{
	{"qivo_parsing_queue_length", "Parsing jobs pending or in flight.", intValue(&queueLength)},
	{"qivo_parsing_queue_processing", "Parsing jobs currently executing.", intValue(&queueProcessing)},
	{"qivo_parsing_queue_max_concurrent", "Configured parsing concurrency limit.", intValue(&queueMaxConcurrent)},
	{"qivo_sse_active_connections", "Live server-sent event connections.", intValue(&sseActive)},
	{"qivo_sse_connections_total", "Connections accepted since start.", intValue(&sseTotal)},
	{"qivo_sse_events_sent_total", "Events delivered to clients since start.", intValue(&sseEventsSent)},
	{"qivo_sse_dropped_connections_total", "Connections torn down after a failed write.", intValue(&sseDropped)},
	{"qivo_sse_fanout_latency_ms", "Average fan-out latency over the recent window.", func() string {
		return fmt.Sprintf("%g", math.Float64frombits(sseLatencyBits.Load()))
	}},
	{"qivo_lifecycle_sink_published_total", "Lifecycle events published to the bus.", intValue(&sinkPublished)},
	{"qivo_lifecycle_sink_dropped_total", "Lifecycle events dropped before reaching the bus.", intValue(&sinkDropped)},
}

func WritePrometheus(w io.Writer) {
	for _, g := range gauges {
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(w, "%s %s\n", g.name, g.value())
	}
}

// Handler samples fresh values with collect (when non-nil) and writes them
// in the Prometheus text format.
func Handler(collect func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if collect != nil {
			collect()
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		WritePrometheus(w)
	}
}
