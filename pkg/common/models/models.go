package models

import (
	"errors"
	"time"
)

// ErrReportNotFound is returned by report stores for unknown ids.
var ErrReportNotFound = errors.New("report not found")

// Event is the envelope written to and read from the message bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // upload.completed, parsing.progress, audit.ready, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Report lifecycle
type ReportStatus string

const (
	ReportStatusDraft         ReportStatus = "draft"
	ReportStatusParsing       ReportStatus = "parsing"
	ReportStatusNeedsReview   ReportStatus = "needs_review"
	ReportStatusReadyForAudit ReportStatus = "ready_for_audit"
	ReportStatusParsingFailed ReportStatus = "parsing_failed"
	ReportStatusAudited       ReportStatus = "audited"
	ReportStatusCertified     ReportStatus = "certified"
	ReportStatusExported      ReportStatus = "exported"
)

// ParsingSummary is stored on the report after every parsing attempt that
// reaches a terminal state.
type ParsingSummary struct {
	DetectedStandard string   `json:"detectedStandard"`
	Confidence       float64  `json:"confidence"`
	Warnings         []string `json:"warnings"`
	TotalFields      int      `json:"totalFields"`
	UncertainFields  int      `json:"uncertainFields"`

	// Document metadata surfaced by the parser, when present.
	Location  string `json:"location,omitempty"`
	Commodity string `json:"commodity,omitempty"`

	AttemptCount int        `json:"attemptCount,omitempty"`
	ParsedAt     *time.Time `json:"parsedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
}

// NeedsReview reports whether a human has to confirm uncertain fields.
func (s ParsingSummary) NeedsReview() bool {
	return s.UncertainFields > 0
}

// ParseResult is what the parsing collaborator returns.
type ParseResult struct {
	Normalized map[string]interface{} `json:"normalized"`
	Summary    ParsingSummary         `json:"summary"`
}

// ParsedReport is the report update written after a successful parse.
type ParsedReport struct {
	Status           ReportStatus
	DetectedStandard string
	NormalizedURL    string
	Summary          ParsingSummary
}
