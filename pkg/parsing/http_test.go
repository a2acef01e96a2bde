package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploadRouter(t *testing.T, parser Parser) (*mux.Router, *fakeReports, *eventLog, *Queue) {
	t.Helper()
	bridge := events.NewBridge()
	log := recordEvents(bridge)
	reports := newFakeReports()
	queue := NewQueue(testConfig(), parser, &memoryStore{}, reports, bridge)
	t.Cleanup(queue.Stop)

	router := mux.NewRouter()
	NewHTTPHandler(queue, reports, NewUploadValidator(DefaultUploadExtensions()), 1<<20).Register(router)
	return router, reports, log, queue
}

func multipartUpload(t *testing.T, fileName string, content []byte, tenantID string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if tenantID != "" {
		require.NoError(t, mw.WriteField("tenantId", tenantID))
	}
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadQueuesParsing(t *testing.T) {
	router, reports, log, queue := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))

	body, contentType := multipartUpload(t, "resource-estimate.txt", []byte("Inferred resources"), "tenant-a")
	req := httptest.NewRequest(http.MethodPost, "/reports/R1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "geologist-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "R1", resp.ReportID)
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.UploadID)

	require.Eventually(t, func() bool { return queue.GetStatus().QueueLength == 0 }, waitFor, tick)
	assert.Equal(t, models.ReportStatusReadyForAudit, reports.Status("R1"))

	kinds := log.kinds("R1")
	require.NotEmpty(t, kinds)
	assert.Equal(t, events.KindUploadCompleted, kinds[0])
	assert.Equal(t, events.KindParsingStarted, kinds[1])
	first := log.forReport("R1")[0]
	assert.Equal(t, "geologist-1", first.UserID)
}

func postUpload(t *testing.T, router *mux.Router, reportID string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, "assays.csv", []byte("hole,grade\nDH1,2.4"), "tenant-a")
	req := httptest.NewRequest(http.MethodPost, "/reports/"+reportID+"/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "geologist-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadToStoppedQueueLeavesReportUntouched(t *testing.T) {
	router, reports, log, queue := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))
	queue.Stop()

	rec := postUpload(t, router, "R9")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.ReportStatus(""), reports.Status("R9"))
	assert.Equal(t, 0, reports.Marks("R9"))
	assert.Empty(t, log.kinds("R9"))
	assert.Equal(t, 0, queue.GetStatus().QueueLength)
}

func TestDuplicateUploadDoesNotTouchActiveReport(t *testing.T) {
	release := make(chan struct{})
	parser := ParserFunc(func(ctx context.Context, _ ParseRequest) (models.ParseResult, error) {
		<-release
		return resultWith("JORC_2012", 0), nil
	})
	router, reports, log, queue := newUploadRouter(t, parser)

	require.Equal(t, http.StatusAccepted, postUpload(t, router, "R1").Code)
	require.Eventually(t, func() bool { return queue.GetStatus().Processing == 1 }, waitFor, tick)

	rec := postUpload(t, router, "R1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, reports.Marks("R1"))

	close(release)
	require.Eventually(t, func() bool { return queue.GetStatus().QueueLength == 0 }, waitFor, tick)
	assert.Equal(t, models.ReportStatusReadyForAudit, reports.Status("R1"))

	uploads := 0
	for _, k := range log.kinds("R1") {
		if k == events.KindUploadCompleted {
			uploads++
		}
	}
	assert.Equal(t, 1, uploads)
}

func TestUploadForUnknownReportReleasesQueueSlot(t *testing.T) {
	router, _, log, queue := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))

	assert.Equal(t, http.StatusNotFound, postUpload(t, router, "missing").Code)
	assert.Empty(t, log.kinds("missing"))

	res, err := queue.Reserve("missing")
	require.NoError(t, err)
	res.Release()
}

func TestUploadTenantFromHeader(t *testing.T) {
	router, _, _, _ := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))

	body, contentType := multipartUpload(t, "a.csv", []byte("x,y"), "")
	req := httptest.NewRequest(http.MethodPost, "/reports/R1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-ID", "tenant-b")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUploadRejections(t *testing.T) {
	router, _, _, _ := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))

	cases := []struct {
		name     string
		report   string
		fileName string
		tenant   string
		want     int
	}{
		{name: "unsupported extension", report: "R1", fileName: "a.exe", tenant: "tenant-a", want: http.StatusBadRequest},
		{name: "missing tenant", report: "R1", fileName: "a.pdf", tenant: "", want: http.StatusBadRequest},
		{name: "unknown report", report: "missing", fileName: "a.pdf", tenant: "tenant-a", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tc.fileName, []byte("content"), tc.tenant)
			req := httptest.NewRequest(http.MethodPost, "/reports/"+tc.report+"/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestParsingStatusEndpoint(t *testing.T) {
	router, _, _, _ := newUploadRouter(t, staticParser(resultWith("JORC_2012", 0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/parsing/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status QueueStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 3, status.MaxConcurrent)
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMimeType("application/pdf", "a.pdf", nil))
	assert.Equal(t, "application/pdf", detectMimeType("application/octet-stream", "a.pdf", nil))
	assert.Equal(t, "text/plain", detectMimeType("", "noext", []byte("plain words")))
}
