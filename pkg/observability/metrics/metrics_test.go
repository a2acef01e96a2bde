package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerWritesSampledGauges(t *testing.T) {
	handler := Handler(func() {
		ObserveQueue(7, 3, 3)
		ObserveNotifications(12, 40, 900, 2, 1.5)
		ObserveSink(880, 4)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	body := rec.Body.String()
	for _, line := range []string{
		"qivo_parsing_queue_length 7",
		"qivo_parsing_queue_processing 3",
		"qivo_sse_active_connections 12",
		"qivo_sse_events_sent_total 900",
		"qivo_sse_dropped_connections_total 2",
		"qivo_sse_fanout_latency_ms 1.5",
		"qivo_lifecycle_sink_dropped_total 4",
		"# TYPE qivo_parsing_queue_length gauge",
	} {
		assert.Contains(t, body, line+"\n")
	}
}
