package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
)

// Kind names one step of the upload -> parse -> review -> audit pipeline.
// The string values are the wire names seen by clients and the message bus.
type Kind string

const (
	KindUploadCompleted  Kind = "upload.completed"
	KindParsingStarted   Kind = "parsing.started"
	KindParsingProgress  Kind = "parsing.progress"
	KindParsingCompleted Kind = "parsing.completed"
	KindParsingFailed    Kind = "parsing.failed"
	KindReviewRequired   Kind = "review.required"
	KindReviewCompleted  Kind = "review.completed"
	KindAuditReady       Kind = "audit.ready"
	KindAuditStarted     Kind = "audit.started"
	KindAuditCompleted   Kind = "audit.completed"
)

var allKinds = []Kind{
	KindUploadCompleted,
	KindParsingStarted,
	KindParsingProgress,
	KindParsingCompleted,
	KindParsingFailed,
	KindReviewRequired,
	KindReviewCompleted,
	KindAuditReady,
	KindAuditStarted,
	KindAuditCompleted,
}

// Kinds returns every lifecycle kind in pipeline order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle event kind %q", s)
}

// Payload is implemented only by the payload structs in this package.
type Payload interface {
	Kind() Kind
	isPayload()
}

type UploadCompleted struct {
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
}

type ParsingStarted struct {
	FileName string `json:"fileName"`
}

type ParsingProgress struct {
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
}

type ParsingCompleted struct {
	Status  models.ReportStatus   `json:"status"`
	Summary models.ParsingSummary `json:"summary"`
}

type ParsingFailed struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type ReviewRequired struct {
	UncertainFieldsCount int `json:"uncertainFieldsCount"`
}

type ReviewCompleted struct {
	NewStatus string `json:"newStatus"`
}

type AuditReady struct {
	Standard string `json:"standard"`
}

type AuditStarted struct {
	AuditID string `json:"auditId"`
}

type AuditCompleted struct {
	AuditID string  `json:"auditId"`
	Score   float64 `json:"score"`
}

func (UploadCompleted) Kind() Kind  { return KindUploadCompleted }
func (ParsingStarted) Kind() Kind   { return KindParsingStarted }
func (ParsingProgress) Kind() Kind  { return KindParsingProgress }
func (ParsingCompleted) Kind() Kind { return KindParsingCompleted }
func (ParsingFailed) Kind() Kind    { return KindParsingFailed }
func (ReviewRequired) Kind() Kind   { return KindReviewRequired }
func (ReviewCompleted) Kind() Kind  { return KindReviewCompleted }
func (AuditReady) Kind() Kind       { return KindAuditReady }
func (AuditStarted) Kind() Kind     { return KindAuditStarted }
func (AuditCompleted) Kind() Kind   { return KindAuditCompleted }

func (UploadCompleted) isPayload()  {}
func (ParsingStarted) isPayload()   {}
func (ParsingProgress) isPayload()  {}
func (ParsingCompleted) isPayload() {}
func (ParsingFailed) isPayload()    {}
func (ReviewRequired) isPayload()   {}
func (ReviewCompleted) isPayload()  {}
func (AuditReady) isPayload()       {}
func (AuditStarted) isPayload()     {}
func (AuditCompleted) isPayload()   {}

// LifecycleEvent is one publication on the bridge. UserID is empty when the
// event is not addressed to a particular user.
type LifecycleEvent struct {
	Kind       Kind
	ReportID   string
	UserID     string
	OccurredAt time.Time
	Payload    Payload
}

// Data flattens the payload into the JSON object clients receive, with the
// owning report id alongside the payload fields.
func (e LifecycleEvent) Data() map[string]interface{} {
	data := map[string]interface{}{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err == nil {
			_ = json.Unmarshal(raw, &data)
		}
	}
	data["reportId"] = e.ReportID
	return data
}

// DecodePayload rebuilds a typed payload from its wire form.
func DecodePayload(kind Kind, data map[string]interface{}) (Payload, error) {
	var target Payload
	switch kind {
	case KindUploadCompleted:
		target = &UploadCompleted{}
	case KindParsingStarted:
		target = &ParsingStarted{}
	case KindParsingProgress:
		target = &ParsingProgress{}
	case KindParsingCompleted:
		target = &ParsingCompleted{}
	case KindParsingFailed:
		target = &ParsingFailed{}
	case KindReviewRequired:
		target = &ReviewRequired{}
	case KindReviewCompleted:
		target = &ReviewCompleted{}
	case KindAuditReady:
		target = &AuditReady{}
	case KindAuditStarted:
		target = &AuditStarted{}
	case KindAuditCompleted:
		target = &AuditCompleted{}
	default:
		return nil, fmt.Errorf("unknown lifecycle event kind %q", kind)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}

	return deref(target), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *UploadCompleted:
		return *v
	case *ParsingStarted:
		return *v
	case *ParsingProgress:
		return *v
	case *ParsingCompleted:
		return *v
	case *ParsingFailed:
		return *v
	case *ReviewRequired:
		return *v
	case *ReviewCompleted:
		return *v
	case *AuditReady:
		return *v
	case *AuditStarted:
		return *v
	case *AuditCompleted:
		return *v
	}
	return p
}
