package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/gateway/httpclient"
)

const maxErrorBody = 4096

// HTTPParser calls the extraction service over HTTP.
type HTTPParser struct {
	baseURL string
	client  *http.Client
}

func NewHTTPParser(baseURL string, timeout time.Duration) *HTTPParser {
	return &HTTPParser{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpclient.New(timeout),
	}
}

func (p *HTTPParser) Parse(ctx context.Context, req ParseRequest) (models.ParseResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("encoding parse request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/parse", bytes.NewReader(body))
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("building parse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("calling parser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &httpclient.StatusError{
			Service: "parser",
			Code:    resp.StatusCode,
			Body:    strings.TrimSpace(string(msg)),
		}
		if httpclient.IsClientError(statusErr) {
			return models.ParseResult{}, Permanent(statusErr)
		}
		return models.ParseResult{}, statusErr
	}

	var result models.ParseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.ParseResult{}, fmt.Errorf("decoding parse response: %w", err)
	}
	if result.Normalized == nil {
		result.Normalized = map[string]interface{}{}
	}
	return result, nil
}
