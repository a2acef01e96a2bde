package events

import "github.com/qivo-mining/platform/pkg/common/models"

// Emitter builds correctly shaped events and publishes them on a bridge,
// optionally addressed to one user.
type Emitter struct {
	bridge *Bridge
	userID string
}

// For returns an emitter whose events are addressed to userID. An empty
// userID produces unaddressed events.
func (b *Bridge) For(userID string) Emitter {
	return Emitter{bridge: b, userID: userID}
}

func (e Emitter) emit(reportID string, payload Payload) {
	if e.bridge == nil {
		return
	}
	e.bridge.Publish(LifecycleEvent{
		Kind:     payload.Kind(),
		ReportID: reportID,
		UserID:   e.userID,
		Payload:  payload,
	})
}

func (e Emitter) EmitUploadCompleted(reportID, uploadID, fileName string) {
	e.emit(reportID, UploadCompleted{UploadID: uploadID, FileName: fileName})
}

func (e Emitter) EmitParsingStarted(reportID, fileName string) {
	e.emit(reportID, ParsingStarted{FileName: fileName})
}

func (e Emitter) EmitParsingProgress(reportID string, progress int, stage string) {
	e.emit(reportID, ParsingProgress{Progress: progress, Stage: stage})
}

func (e Emitter) EmitParsingCompleted(reportID string, status models.ReportStatus, summary models.ParsingSummary) {
	e.emit(reportID, ParsingCompleted{Status: status, Summary: summary})
}

func (e Emitter) EmitParsingFailed(reportID, errMsg string, retryable bool) {
	e.emit(reportID, ParsingFailed{Error: errMsg, Retryable: retryable})
}

func (e Emitter) EmitReviewRequired(reportID string, uncertainFieldsCount int) {
	e.emit(reportID, ReviewRequired{UncertainFieldsCount: uncertainFieldsCount})
}

func (e Emitter) EmitReviewCompleted(reportID, newStatus string) {
	e.emit(reportID, ReviewCompleted{NewStatus: newStatus})
}

func (e Emitter) EmitAuditReady(reportID, standard string) {
	e.emit(reportID, AuditReady{Standard: standard})
}

func (e Emitter) EmitAuditStarted(reportID, auditID string) {
	e.emit(reportID, AuditStarted{AuditID: auditID})
}

func (e Emitter) EmitAuditCompleted(reportID, auditID string, score float64) {
	e.emit(reportID, AuditCompleted{AuditID: auditID, Score: score})
}
