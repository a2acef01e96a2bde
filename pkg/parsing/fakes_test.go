package parsing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/events"
)

type fakeReports struct {
	mu       sync.Mutex
	statuses map[string]models.ReportStatus
	parsed   map[string]models.ParsedReport
	failed   map[string]models.ParsingSummary
	marks    map[string]int
	saveErr  error
}

func newFakeReports() *fakeReports {
	return &fakeReports{
		statuses: make(map[string]models.ReportStatus),
		parsed:   make(map[string]models.ParsedReport),
		failed:   make(map[string]models.ParsingSummary),
		marks:    make(map[string]int),
	}
}

func (f *fakeReports) MarkParsing(_ context.Context, reportID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reportID == "missing" {
		return models.ErrReportNotFound
	}
	f.statuses[reportID] = models.ReportStatusParsing
	f.marks[reportID]++
	return nil
}

func (f *fakeReports) Marks(reportID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks[reportID]
}

func (f *fakeReports) SaveParsed(_ context.Context, reportID string, update models.ParsedReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.statuses[reportID] = update.Status
	f.parsed[reportID] = update
	return nil
}

func (f *fakeReports) MarkFailed(_ context.Context, reportID string, summary models.ParsingSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[reportID] = models.ReportStatusParsingFailed
	f.failed[reportID] = summary
	return nil
}

func (f *fakeReports) Status(reportID string) models.ReportStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[reportID]
}

func (f *fakeReports) Parsed(reportID string) models.ParsedReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parsed[reportID]
}

func (f *fakeReports) Failed(reportID string) models.ParsingSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[reportID]
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]interface{}
}

func (m *memoryStore) SaveNormalized(_ context.Context, data map[string]interface{}, tenantID, reportID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]map[string]interface{})
	}
	key := tenantID + "/" + reportID
	m.data[key] = data
	return "memory://" + key, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func recordEvents(bridge *events.Bridge) *eventLog {
	l := &eventLog{}
	bridge.Subscribe(func(e events.LifecycleEvent) {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) forReport(reportID string) []events.LifecycleEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.LifecycleEvent
	for _, e := range l.events {
		if e.ReportID == reportID {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) kinds(reportID string) []events.Kind {
	var out []events.Kind
	for _, e := range l.forReport(reportID) {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) has(reportID string, kind events.Kind) bool {
	for _, k := range l.kinds(reportID) {
		if k == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) last(reportID string, kind events.Kind) (events.LifecycleEvent, bool) {
	list := l.forReport(reportID)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Kind == kind {
			return list[i], true
		}
	}
	return events.LifecycleEvent{}, false
}

func resultWith(standard string, uncertain int) models.ParseResult {
	return models.ParseResult{
		Normalized: map[string]interface{}{"project": "Serra Azul", "commodity": "iron"},
		Summary: models.ParsingSummary{
			DetectedStandard: standard,
			Confidence:       0.92,
			Warnings:         []string{},
			TotalFields:      40,
			UncertainFields:  uncertain,
		},
	}
}

func staticParser(result models.ParseResult) ParserFunc {
	return func(context.Context, ParseRequest) (models.ParseResult, error) {
		return result, nil
	}
}

func failingParser(msg string) ParserFunc {
	return func(context.Context, ParseRequest) (models.ParseResult, error) {
		return models.ParseResult{}, errors.New(msg)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ShutdownGrace = 2 * time.Second
	return cfg
}

type harness struct {
	queue   *Queue
	reports *fakeReports
	store   *memoryStore
	log     *eventLog
}

func newHarness(t *testing.T, cfg Config, parser Parser) *harness {
	t.Helper()
	bridge := events.NewBridge()
	h := &harness{
		reports: newFakeReports(),
		store:   &memoryStore{},
		log:     recordEvents(bridge),
	}
	h.queue = NewQueue(cfg, parser, h.store, h.reports, bridge)
	t.Cleanup(h.queue.Stop)
	return h
}

func (h *harness) idle() bool {
	return h.queue.GetStatus().QueueLength == 0
}
