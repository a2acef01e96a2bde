package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/qivo-mining/platform/pkg/common/models"
)

// ReportMarker flags a report as being parsed before its job is queued.
type ReportMarker interface {
	MarkParsing(ctx context.Context, reportID, tenantID string) error
}

type HTTPHandler struct {
	queue     *Queue
	reports   ReportMarker
	validator *UploadValidator
	maxBody   int64
}

func NewHTTPHandler(queue *Queue, reports ReportMarker, validator *UploadValidator, maxBody int64) *HTTPHandler {
	return &HTTPHandler{queue: queue, reports: reports, validator: validator, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/reports/{id}/upload", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/parsing/status", h.handleStatus).Methods(http.MethodGet)
}

type uploadResponse struct {
	ReportID string `json:"reportId"`
	UploadID string `json:"uploadId"`
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		logger.Log.WithError(err).Warn("invalid upload payload")
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to read uploaded file")
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	reportID := mux.Vars(r)["id"]
	tenantID := r.FormValue("tenantId")
	if tenantID == "" {
		tenantID = r.Header.Get("X-Tenant-ID")
	}
	userID := r.Header.Get("X-User-ID")
	fileName := filepath.Base(header.Filename)

	if err := h.validator.Validate(reportID, tenantID, fileName, len(data)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mimeType := detectMimeType(header.Header.Get("Content-Type"), fileName, data)

	// The queue must accept the report before its status changes, so a
	// rejected upload leaves the report untouched.
	res, err := h.queue.Reserve(reportID)
	if err != nil {
		writeQueueError(w, reportID, err)
		return
	}
	defer res.Release()

	if err := h.reports.MarkParsing(r.Context(), reportID, tenantID); err != nil {
		if errors.Is(err, models.ErrReportNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).WithField("report_id", reportID).Error("failed to mark report as parsing")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	uploadID := uuid.New().String()
	jobID, err := res.Enqueue(tenantID, fileName, data, mimeType, WithRequestedBy(userID), WithUpload(uploadID))
	if err != nil {
		writeQueueError(w, reportID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		ReportID: reportID,
		UploadID: uploadID,
		JobID:    jobID,
		Status:   "parsing",
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.GetStatus())
}

func writeQueueError(w http.ResponseWriter, reportID string, err error) {
	switch {
	case errors.Is(err, ErrDuplicateJob):
		http.Error(w, "report is already being parsed", http.StatusConflict)
	case errors.Is(err, ErrQueueStopped):
		http.Error(w, "service shutting down", http.StatusServiceUnavailable)
	default:
		logger.Log.WithError(err).WithField("report_id", reportID).Error("failed to enqueue parsing job")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Debug("failed to write response")
	}
}

func detectMimeType(declared, fileName string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
