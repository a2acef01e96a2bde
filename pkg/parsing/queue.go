package parsing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/events"
)

const (
	failureWarning = "Parsing failed after all retry attempts"
	stoppedWarning = "Parsing service stopped before the job could start"
)

type Config struct {
	MaxConcurrent  int
	MaxAttempts    int
	BaseBackoff    time.Duration
	ParseTimeout   time.Duration
	StorageTimeout time.Duration
	DBTimeout      time.Duration
	ShutdownGrace  time.Duration
	PollInterval   time.Duration
	Standards      Standards
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		ParseTimeout:   120 * time.Second,
		StorageTimeout: 30 * time.Second,
		DBTimeout:      30 * time.Second,
		ShutdownGrace:  30 * time.Second,
		PollInterval:   100 * time.Millisecond,
		Standards:      DefaultStandards(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.ParseTimeout <= 0 {
		c.ParseTimeout = def.ParseTimeout
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = def.StorageTimeout
	}
	if c.DBTimeout <= 0 {
		c.DBTimeout = def.DBTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if len(c.Standards.Known) == 0 {
		c.Standards = def.Standards
	}
	return c
}

// Queue runs parsing jobs in the background with at most MaxConcurrent jobs
// executing at once. Jobs are taken in arrival order; a job waiting out a
// retry backoff does not hold a slot.
type Queue struct {
	cfg     Config
	parser  Parser
	store   NormalizedStore
	reports ReportStore
	bridge  *events.Bridge
	now     func() time.Time

	mu         sync.Mutex
	jobs       []*Job
	byReport   map[string]*Job
	reserved   map[string]*Reservation
	processing int
	stopped    bool
}

func NewQueue(cfg Config, parser Parser, store NormalizedStore, reports ReportStore, bridge *events.Bridge) *Queue {
	return &Queue{
		cfg:      cfg.withDefaults(),
		parser:   parser,
		store:    store,
		reports:  reports,
		bridge:   bridge,
		now:      time.Now,
		byReport: make(map[string]*Job),
		reserved: make(map[string]*Reservation),
	}
}

// Enqueue accepts a job and returns its id without waiting for it to run.
// A report can have only one active job at a time.
func (q *Queue) Enqueue(reportID, tenantID, fileName string, data []byte, mimeType string, opts ...EnqueueOption) (string, error) {
	res, err := q.Reserve(reportID)
	if err != nil {
		return "", err
	}
	return res.Enqueue(tenantID, fileName, data, mimeType, opts...)
}

// Reservation holds a report's job slot between admission and enqueue, so
// callers can update the report only once the queue has agreed to take it.
type Reservation struct {
	q        *Queue
	reportID string
}

// Reserve claims the report for a job that is about to be enqueued. It fails
// with ErrDuplicateJob while the report has an active job or another
// reservation, and with ErrQueueStopped after Stop.
func (q *Queue) Reserve(reportID string) (*Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, ErrQueueStopped
	}
	if _, exists := q.byReport[reportID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, reportID)
	}
	if _, exists := q.reserved[reportID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, reportID)
	}
	res := &Reservation{q: q, reportID: reportID}
	q.reserved[reportID] = res
	return res, nil
}

// Release gives the slot back without enqueuing. It is a no-op once the
// reservation has been used or released.
func (r *Reservation) Release() {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if r.q.reserved[r.reportID] == r {
		delete(r.q.reserved, r.reportID)
	}
}

// Enqueue turns the reservation into a pending job. If the queue stopped in
// the meantime the report is marked failed, since the caller has already
// flagged it as parsing, and ErrQueueStopped is returned.
func (r *Reservation) Enqueue(tenantID, fileName string, data []byte, mimeType string, opts ...EnqueueOption) (string, error) {
	q := r.q
	job := &Job{
		ID:        uuid.New().String(),
		ReportID:  r.reportID,
		TenantID:  tenantID,
		FileName:  fileName,
		MimeType:  mimeType,
		Status:    JobPending,
		CreatedAt: q.now(),
		data:      data,
	}
	for _, opt := range opts {
		opt(job)
	}

	q.mu.Lock()
	if q.reserved[r.reportID] != r {
		q.mu.Unlock()
		return "", ErrReservationReleased
	}
	delete(q.reserved, r.reportID)
	if q.stopped {
		q.mu.Unlock()
		q.rejectStopped(job)
		return "", ErrQueueStopped
	}
	q.jobs = append(q.jobs, job)
	q.byReport[r.reportID] = job
	queued := len(q.jobs)
	q.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"report_id": job.ReportID,
		"tenant_id": tenantID,
		"file_name": fileName,
		"mime_type": mimeType,
		"size":      len(data),
		"queued":    queued,
	}).Info("Parsing job enqueued")

	em := q.emitter(job)
	if job.UploadID != "" {
		em.EmitUploadCompleted(job.ReportID, job.UploadID, fileName)
	}
	em.EmitParsingStarted(job.ReportID, fileName)
	q.schedule()
	return job.ID, nil
}

func (q *Queue) rejectStopped(job *Job) {
	logger.Log.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"report_id": job.ReportID,
	}).Warn("Parsing queue stopped before job could be enqueued")
	q.persistFailure(job, 0, ErrQueueStopped, stoppedWarning)
	q.emitter(job).EmitParsingFailed(job.ReportID, ErrQueueStopped.Error(), true)
}

func (q *Queue) emitter(job *Job) events.Emitter {
	return q.bridge.For(job.RequestedBy)
}

// schedule starts pending jobs, in order, until every slot is busy.
func (q *Queue) schedule() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	now := q.now()
	var ready []*Job
	for _, job := range q.jobs {
		if q.processing >= q.cfg.MaxConcurrent {
			break
		}
		if job.Status != JobPending || now.Before(job.notBefore) {
			continue
		}
		job.Status = JobProcessing
		job.Attempts++
		q.processing++
		ready = append(ready, job)
	}
	q.mu.Unlock()

	for _, job := range ready {
		go q.run(job)
	}
}

func (q *Queue) run(job *Job) {
	q.mu.Lock()
	attempt := job.Attempts
	q.mu.Unlock()

	log := logger.Log.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"report_id": job.ReportID,
		"attempt":   attempt,
	})
	log.WithField("max_attempts", q.cfg.MaxAttempts).Info("Processing parsing job")

	started := time.Now()
	status, summary, err := q.execute(context.Background(), job, attempt)
	if err != nil {
		q.handleFailure(job, attempt, err)
		return
	}

	em := q.emitter(job)
	em.EmitParsingProgress(job.ReportID, 100, "done")
	em.EmitParsingCompleted(job.ReportID, status, summary)
	if status == models.ReportStatusNeedsReview {
		em.EmitReviewRequired(job.ReportID, summary.UncertainFields)
	} else {
		em.EmitAuditReady(job.ReportID, summary.DetectedStandard)
	}

	q.finish(job, JobCompleted)
	log.WithFields(map[string]interface{}{
		"status":   status,
		"standard": summary.DetectedStandard,
		"duration": time.Since(started).String(),
	}).Info("Parsing job completed")
}

// execute runs the stages of one attempt. The first failing stage aborts the
// rest.
func (q *Queue) execute(ctx context.Context, job *Job, attempt int) (models.ReportStatus, models.ParsingSummary, error) {
	em := q.emitter(job)

	em.EmitParsingProgress(job.ReportID, 25, "reading file")
	result, err := runStage(ctx, "parse", q.cfg.ParseTimeout, func(ctx context.Context) (models.ParseResult, error) {
		return q.parser.Parse(ctx, ParseRequest{
			Text:     ExtractText(job.data, job.MimeType),
			MimeType: job.MimeType,
			ReportID: job.ReportID,
			TenantID: job.TenantID,
			FileName: job.FileName,
		})
	})
	if err != nil {
		return "", models.ParsingSummary{}, err
	}
	em.EmitParsingProgress(job.ReportID, 50, "normalizing data")

	em.EmitParsingProgress(job.ReportID, 75, "saving normalized data")
	url, err := runStage(ctx, "storage", q.cfg.StorageTimeout, func(ctx context.Context) (string, error) {
		return q.store.SaveNormalized(ctx, result.Normalized, job.TenantID, job.ReportID)
	})
	if err != nil {
		return "", models.ParsingSummary{}, fmt.Errorf("saving normalized data: %w", err)
	}

	em.EmitParsingProgress(job.ReportID, 90, "updating database")
	summary := result.Summary
	summary.DetectedStandard = q.cfg.Standards.Resolve(summary.DetectedStandard)
	summary.AttemptCount = attempt
	parsedAt := q.now()
	summary.ParsedAt = &parsedAt

	status := models.ReportStatusReadyForAudit
	if summary.NeedsReview() {
		status = models.ReportStatusNeedsReview
	}

	_, err = runStage(ctx, "database", q.cfg.DBTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.reports.SaveParsed(ctx, job.ReportID, models.ParsedReport{
			Status:           status,
			DetectedStandard: summary.DetectedStandard,
			NormalizedURL:    url,
			Summary:          summary,
		})
	})
	if err != nil {
		return "", models.ParsingSummary{}, &StoreError{Op: "save parsed report", Err: err}
	}
	return status, summary, nil
}

func (q *Queue) handleFailure(job *Job, attempt int, err error) {
	class := classify(err)
	log := logger.Log.WithError(err).WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"report_id": job.ReportID,
		"attempt":   attempt,
		"failure":   class.String(),
		"timed_out": IsStageTimeout(err),
	})

	if class == failureTransient && attempt < q.cfg.MaxAttempts {
		delay := BackoffDelay(q.cfg.BaseBackoff, attempt)
		q.mu.Lock()
		job.Status = JobPending
		job.LastError = err.Error()
		job.notBefore = q.now().Add(delay)
		q.processing--
		q.mu.Unlock()

		log.WithField("retry_in", delay.String()).Warn("Parsing attempt failed, retrying")
		q.emitter(job).EmitParsingProgress(job.ReportID, 0,
			fmt.Sprintf("retrying in %s (attempt %d/%d)", delay, attempt+1, q.cfg.MaxAttempts))

		time.AfterFunc(delay, q.schedule)
		q.schedule()
		return
	}

	// Store failures are terminal for this job, but the upload itself may
	// succeed once the database is back.
	retryable := class == failureStore
	if class == failureStore {
		log.Error("Report store unavailable, failing parsing job")
	} else {
		log.Error("Parsing job failed permanently")
	}

	q.persistFailure(job, attempt, err, failureWarning)

	q.mu.Lock()
	job.LastError = err.Error()
	q.mu.Unlock()

	q.emitter(job).EmitParsingFailed(job.ReportID, err.Error(), retryable)
	q.finish(job, JobFailed)
}

// persistFailure records the terminal failure on the report. A failure to do
// so is logged; there is nothing left to retry.
func (q *Queue) persistFailure(job *Job, attempt int, cause error, warning string) {
	failedAt := q.now()
	summary := models.ParsingSummary{
		DetectedStandard: q.cfg.Standards.Default,
		Confidence:       0,
		Warnings:         []string{warning},
		TotalFields:      0,
		UncertainFields:  0,
		AttemptCount:     attempt,
		Error:            cause.Error(),
		FailedAt:         &failedAt,
	}
	_, err := runStage(context.Background(), "database", q.cfg.DBTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.reports.MarkFailed(ctx, job.ReportID, summary)
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"job_id":    job.ID,
			"report_id": job.ReportID,
			"failure":   failureStore.String(),
		}).Error("Failed to persist parsing failure")
	}
}

// finish removes the job from the active set and frees its slot.
func (q *Queue) finish(job *Job, status JobStatus) {
	q.mu.Lock()
	job.Status = status
	job.data = nil
	for i, j := range q.jobs {
		if j == job {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	if q.byReport[job.ReportID] == job {
		delete(q.byReport, job.ReportID)
	}
	q.processing--
	q.mu.Unlock()

	q.schedule()
}

// GetStatus returns a snapshot of the active jobs.
func (q *Queue) GetStatus() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]JobSnapshot, 0, len(q.jobs))
	for _, j := range q.jobs {
		jobs = append(jobs, j.snapshot())
	}
	return QueueStatus{
		QueueLength:   len(q.jobs),
		Processing:    q.processing,
		MaxConcurrent: q.cfg.MaxConcurrent,
		Jobs:          jobs,
	}
}

func (q *Queue) inFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Stop stops scheduling and waits for in-flight jobs to finish, up to the
// shutdown grace period. Jobs still running after that are abandoned.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	deadline := time.Now().Add(q.cfg.ShutdownGrace)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		remaining := q.inFlight()
		if remaining == 0 {
			logger.Log.Info("Parsing queue stopped")
			return
		}
		if !time.Now().Before(deadline) {
			logger.Log.WithField("in_flight", remaining).Warn("Parsing queue stop grace period elapsed, abandoning jobs")
			return
		}
		<-ticker.C
	}
}
