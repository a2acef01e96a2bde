package notification

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/qivo-mining/platform/pkg/gateway/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(cfg)
	router := mux.NewRouter()
	NewHTTPHandler(svc, time.Second).Register(router.PathPrefix("/api/sse").Subrouter())
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		svc.Shutdown()
		server.Close()
	})
	return svc, server
}

// readFrame reads one SSE frame (up to the blank line).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

func TestStreamDeliversConnectedAndBroadcastEvents(t *testing.T) {
	svc, server := newTestServer(t, DefaultConfig())

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/sse/stream?events=notification", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "geologist-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	connected := readFrame(t, reader)
	assert.Contains(t, connected, "event: connected\n")

	clients := svc.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "geologist-1", clients[0].UserID)
	assert.Equal(t, []string{"notification"}, clients[0].SubscribedEvents)

	assert.Equal(t, 1, svc.Notify("geologist-1", "Report parsed", "success", nil))
	frame := readFrame(t, reader)
	assert.Contains(t, frame, "event: notification\n")
	assert.Contains(t, frame, `"message":"Report parsed"`)

	resp.Body.Close()
	assert.Eventually(t, func() bool { return svc.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOversizedBroadcastBodyIsRejected(t *testing.T) {
	svc := NewService(DefaultConfig())
	router := mux.NewRouter()
	sub := router.PathPrefix("/api/sse").Subrouter()
	sub.Use(middleware.BodyLimit(64))
	NewHTTPHandler(svc, time.Second).Register(sub)
	require.NoError(t, svc.Connect("c1", "u1", &fakeStream{}, nil, nil))

	big := `{"type":"notification","data":"` + strings.Repeat("x", 256) + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sse/broadcast", strings.NewReader(big)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	small := `{"type":"notification","data":"ok"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sse/broadcast", strings.NewReader(small)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamRejectsWhenAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	svc, server := newTestServer(t, cfg)
	require.NoError(t, svc.Connect("held", "u1", &fakeStream{}, nil, nil))

	resp, err := http.Get(server.URL + "/api/sse/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Server capacity reached", body["error"])
}

func TestSendEndpointBuffersForOfflineUser(t *testing.T) {
	svc, server := newTestServer(t, DefaultConfig())

	payload := []byte(`{"type":"notification","data":{"message":"hello"}}`)
	resp, err := http.Post(server.URL+"/api/sse/send/u9", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["buffered"])
	assert.Equal(t, 1, svc.BufferedCount("u9"))
}

func TestBroadcastEndpointValidatesBody(t *testing.T) {
	_, server := newTestServer(t, DefaultConfig())

	resp, err := http.Post(server.URL+"/api/sse/broadcast", "application/json", strings.NewReader(`{"type":"notification"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndDisconnectEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	svc, server := newTestServer(t, cfg)

	resp, err := http.Get(server.URL + "/api/sse/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.Connect("c1", "u1", &fakeStream{}, nil, nil))
	resp, err = http.Get(server.URL + "/api/sse/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/sse/client/c1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
