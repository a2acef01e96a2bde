package parsing

import (
	"context"

	"github.com/qivo-mining/platform/pkg/common/models"
)

type ParseRequest struct {
	Text     string `json:"text"`
	MimeType string `json:"mimeType"`
	ReportID string `json:"reportId"`
	TenantID string `json:"tenantId"`
	FileName string `json:"fileName"`
}

// Parser extracts normalized data and a confidence summary from a document.
// Implementations should return a PermanentError for input they can never
// handle.
type Parser interface {
	Parse(ctx context.Context, req ParseRequest) (models.ParseResult, error)
}

type ParserFunc func(ctx context.Context, req ParseRequest) (models.ParseResult, error)

func (f ParserFunc) Parse(ctx context.Context, req ParseRequest) (models.ParseResult, error) {
	return f(ctx, req)
}

// NormalizedStore keeps the normalized output and returns where it lives.
type NormalizedStore interface {
	SaveNormalized(ctx context.Context, data map[string]interface{}, tenantID, reportID string) (string, error)
}

// ReportStore is the subset of the report table the queue writes.
type ReportStore interface {
	SaveParsed(ctx context.Context, reportID string, update models.ParsedReport) error
	MarkFailed(ctx context.Context, reportID string, summary models.ParsingSummary) error
}
