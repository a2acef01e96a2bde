package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/common/retry"
	"github.com/qivo-mining/platform/pkg/events"
)

const Source = "report-pipeline"

// Publisher writes one envelope to the message bus.
type Publisher interface {
	Publish(ctx context.Context, key string, event models.Event) error
}

// KafkaSink forwards bridge events to the message bus. Bridge listeners run
// synchronously, so events are handed to a bounded buffer and published from
// a separate goroutine; when the buffer is full the event is dropped.
type KafkaSink struct {
	pub            Publisher
	buf            chan models.Event
	publishTimeout time.Duration

	dropped   atomic.Int64
	published atomic.Int64

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	done        chan struct{}
}

func NewKafkaSink(pub Publisher, bufferSize int) *KafkaSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &KafkaSink{
		pub:            pub,
		buf:            make(chan models.Event, bufferSize),
		publishTimeout: 10 * time.Second,
		done:           make(chan struct{}),
	}
	go s.loop()
	return s
}

// Attach subscribes the sink to every event on the bridge.
func (s *KafkaSink) Attach(bridge *events.Bridge) {
	unsubscribe := bridge.Subscribe(s.enqueue)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// ToEnvelope converts a lifecycle event to the bus envelope.
func ToEnvelope(le events.LifecycleEvent) models.Event {
	meta := map[string]string{"reportId": le.ReportID}
	if le.UserID != "" {
		meta["userId"] = le.UserID
	}
	return models.Event{
		ID:        uuid.New().String(),
		Type:      string(le.Kind),
		Source:    Source,
		Data:      le.Data(),
		Timestamp: le.OccurredAt.UTC(),
		Metadata:  meta,
	}
}

func (s *KafkaSink) enqueue(le events.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.buf <- ToEnvelope(le):
	default:
		s.dropped.Add(1)
		logger.Log.WithFields(map[string]interface{}{
			"event_kind": le.Kind,
			"report_id":  le.ReportID,
		}).Warn("Lifecycle sink buffer full, dropping event")
	}
}

func (s *KafkaSink) loop() {
	defer close(s.done)
	for event := range s.buf {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		key := event.Metadata["reportId"]
		err := retry.Do(ctx, 3, 100*time.Millisecond, time.Second, func() error {
			return s.pub.Publish(ctx, key, event)
		})
		cancel()
		if err != nil {
			s.dropped.Add(1)
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Error("Failed to publish lifecycle event")
			continue
		}
		s.published.Add(1)
	}
}

func (s *KafkaSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *KafkaSink) Published() int64 {
	return s.published.Load()
}

// Close detaches from the bridge and waits for buffered events to be
// published, or for ctx to end.
func (s *KafkaSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.buf)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
