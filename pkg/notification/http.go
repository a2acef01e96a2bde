package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/qivo-mining/platform/pkg/common/logger"
)

type HTTPHandler struct {
	service      *Service
	writeTimeout time.Duration
}

func NewHTTPHandler(service *Service, writeTimeout time.Duration) *HTTPHandler {
	return &HTTPHandler{service: service, writeTimeout: writeTimeout}
}

// Register mounts the push endpoints. The caller picks the prefix, e.g.
// router.PathPrefix("/api/sse").Subrouter().
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/stream", h.handleStream).Methods(http.MethodGet)
	router.HandleFunc("/broadcast", h.handleBroadcast).Methods(http.MethodPost)
	router.HandleFunc("/send/{userId}", h.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/clients", h.handleClients).Methods(http.MethodGet)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/client/{clientId}", h.handleDisconnect).Methods(http.MethodDelete)
}

func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID == "" {
		userID = "anonymous"
	}

	clientID := "client-" + uuid.New().String()
	stream := newHTTPStream(w, h.writeTimeout)
	metadata := map[string]interface{}{
		"userAgent": r.UserAgent(),
		"ip":        r.RemoteAddr,
	}

	err := h.service.Connect(clientID, userID, stream, parseEventTypes(r.URL.Query().Get("events")), metadata)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Server capacity reached"})
			return
		}
		logger.Log.WithError(err).WithField("user_id", userID).Error("failed to open event stream")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	select {
	case <-r.Context().Done():
	case <-stream.Done():
	}
	h.service.Disconnect(clientID)
}

func parseEventTypes(raw string) []EventType {
	if raw == "" {
		return nil
	}
	var out []EventType
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, EventType(t))
		}
	}
	return out
}

type eventRequest struct {
	Type     EventType              `json:"type"`
	Data     interface{}            `json:"data"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *HTTPHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (Event, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return Event{}, false
	}
	if req.Type == "" || req.Data == nil {
		http.Error(w, "type and data are required", http.StatusBadRequest)
		return Event{}, false
	}
	return Event{Type: req.Type, Data: req.Data, Metadata: req.Metadata}, true
}

func (h *HTTPHandler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	sent := h.service.Broadcast(event)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": sent})
}

func (h *HTTPHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	userID := mux.Vars(r)["userId"]
	sent := h.service.SendToUser(userID, event)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sent":     sent,
		"buffered": sent == 0,
	})
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	clients := h.service.Clients()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":         h.service.Stats(),
		"clients":       len(clients),
		"clientDetails": clients,
	})
}

func (h *HTTPHandler) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := h.service.Clients()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(clients),
		"clients": clients,
	})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *HTTPHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	if !h.service.Disconnect(clientID) {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Debug("failed to write response")
	}
}
