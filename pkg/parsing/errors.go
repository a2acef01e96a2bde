package parsing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDuplicateJob        = errors.New("parsing: report already has an active job")
	ErrQueueStopped        = errors.New("parsing: queue stopped")
	ErrReservationReleased = errors.New("parsing: reservation already used or released")
)

// PermanentError marks input that no retry can fix (corrupted file,
// unsupported or invalid format).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the queue fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// StoreError reports that the relational store could not record the result.
// It fails the job without a parsing retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("report store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// StageTimeoutError is returned when a stage outlives its budget.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Timeout)
}

func IsStageTimeout(err error) bool {
	var te *StageTimeoutError
	return errors.As(err, &te)
}

type failureClass int

const (
	failureTransient failureClass = iota
	failurePermanent
	failureStore
)

func (c failureClass) String() string {
	switch c {
	case failurePermanent:
		return "permanent"
	case failureStore:
		return "store"
	default:
		return "transient"
	}
}

var permanentMarkers = []string{
	"invalid file",
	"invalid format",
	"unsupported format",
	"corrupted",
}

func classify(err error) failureClass {
	if IsStoreError(err) {
		return failureStore
	}
	if IsPermanentError(err) {
		return failurePermanent
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return failurePermanent
		}
	}
	return failureTransient
}

// BackoffDelay is the wait before re-attempting a job that has already run
// attempts times: base * 2^attempts.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return base * time.Duration(1<<uint(attempts))
}
