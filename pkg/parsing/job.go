package parsing

import (
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one document awaiting or undergoing parsing. Fields are guarded by
// the owning queue's mutex.
type Job struct {
	ID          string
	ReportID    string
	TenantID    string
	FileName    string
	MimeType    string
	RequestedBy string
	UploadID    string
	Status      JobStatus
	Attempts    int
	CreatedAt   time.Time
	LastError   string

	data      []byte
	notBefore time.Time
}

type EnqueueOption func(*Job)

// WithRequestedBy addresses the job's lifecycle events to the uploading user.
func WithRequestedBy(userID string) EnqueueOption {
	return func(j *Job) {
		j.RequestedBy = userID
	}
}

// WithUpload announces the accepted upload as upload.completed right before
// the job's parsing.started event.
func WithUpload(uploadID string) EnqueueOption {
	return func(j *Job) {
		j.UploadID = uploadID
	}
}

type JobSnapshot struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"reportId"`
	FileName  string    `json:"fileName"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	LastError string    `json:"lastError,omitempty"`
}

func (j *Job) snapshot() JobSnapshot {
	return JobSnapshot{
		ID:        j.ID,
		ReportID:  j.ReportID,
		FileName:  j.FileName,
		Status:    j.Status,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		LastError: j.LastError,
	}
}

type QueueStatus struct {
	QueueLength   int           `json:"queueLength"`
	Processing    int           `json:"processing"`
	MaxConcurrent int           `json:"maxConcurrent"`
	Jobs          []JobSnapshot `json:"jobs"`
}
