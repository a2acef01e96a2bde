package notification

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var errStreamClosed = errors.New("notification: stream closed")

// httpStream writes SSE frames to a response. Headers go out with the first
// frame so a rejected connection can still get a JSON error response.
type httpStream struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

func newHTTPStream(w http.ResponseWriter, writeTimeout time.Duration) *httpStream {
	return &httpStream{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *httpStream) Write(frame []byte) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}

	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	// Clear the deadline so an idle stream is not cut between writes; this
	// also lifts the server-wide WriteTimeout for the connection.
	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close ends the stream; the handler goroutine serving it returns.
func (s *httpStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *httpStream) Done() <-chan struct{} {
	return s.done
}
