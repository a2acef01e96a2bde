package parsing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPParserDecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/parse", r.URL.Path)
		var req ParseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "R1", req.ReportID)
		assert.Equal(t, "tenant-a", req.TenantID)

		json.NewEncoder(w).Encode(resultWith("PERC", 2))
	}))
	defer server.Close()

	p := NewHTTPParser(server.URL+"/", time.Second)
	res, err := p.Parse(context.Background(), ParseRequest{ReportID: "R1", TenantID: "tenant-a", FileName: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "PERC", res.Summary.DetectedStandard)
	assert.Equal(t, 2, res.Summary.UncertainFields)
	assert.Equal(t, "iron", res.Normalized["commodity"])
}

func TestHTTPParserClassifiesStatusCodes(t *testing.T) {
	code := http.StatusUnprocessableEntity
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unreadable document", code)
	}))
	defer server.Close()
	p := NewHTTPParser(server.URL, time.Second)

	_, err := p.Parse(context.Background(), ParseRequest{ReportID: "R1"})
	require.Error(t, err)
	assert.True(t, IsPermanentError(err))
	assert.Equal(t, failurePermanent, classify(err))

	code = http.StatusBadGateway
	_, err = p.Parse(context.Background(), ParseRequest{ReportID: "R1"})
	require.Error(t, err)
	assert.False(t, IsPermanentError(err))
	assert.Equal(t, failureTransient, classify(err))
}

func TestHTTPParserFillsEmptyNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ParseResult{Summary: models.ParsingSummary{DetectedStandard: "CBRR"}})
	}))
	defer server.Close()

	res, err := NewHTTPParser(server.URL, time.Second).Parse(context.Background(), ParseRequest{})
	require.NoError(t, err)
	assert.NotNil(t, res.Normalized)
}
