package reports

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qivo-mining/platform/pkg/common/logger"
)

type HTTPHandler struct {
	repo *Repository
}

func NewHTTPHandler(repo *Repository) *HTTPHandler {
	return &HTTPHandler{repo: repo}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/reports/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rep, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).WithField("report_id", id).Error("failed to fetch report")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" && tenant != rep.TenantID {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logger.Log.WithError(err).WithField("report_id", id).Debug("failed to write response")
	}
}
