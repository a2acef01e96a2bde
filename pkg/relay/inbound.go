package relay

import (
	"context"

	"github.com/qivo-mining/platform/pkg/common/kafka"
	"github.com/qivo-mining/platform/pkg/common/logger"
	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/events"
)

// Consumer delivers bus envelopes to a handler until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, handler kafka.EventHandler) error
}

// InboundRelay publishes lifecycle events produced by other services
// (review and audit transitions) on the local bridge.
type InboundRelay struct {
	bridge *events.Bridge
}

func NewInboundRelay(bridge *events.Bridge) *InboundRelay {
	return &InboundRelay{bridge: bridge}
}

// Run consumes until ctx is cancelled.
func (r *InboundRelay) Run(ctx context.Context, consumer Consumer) error {
	return consumer.Consume(ctx, r.Handle)
}

// Handle re-emits one envelope. Envelopes that are not lifecycle events are
// skipped without error so they are committed and not redelivered.
func (r *InboundRelay) Handle(_ context.Context, event models.Event) error {
	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"source":     event.Source,
	})

	if event.Source == Source {
		log.Debug("Skipping own lifecycle event")
		return nil
	}

	kind, err := events.ParseKind(event.Type)
	if err != nil {
		log.Debug("Skipping non-lifecycle event")
		return nil
	}

	reportID, _ := event.Data["reportId"].(string)
	if reportID == "" {
		reportID = event.Metadata["reportId"]
	}
	if reportID == "" {
		log.Warn("Inbound lifecycle event without report id")
		return nil
	}

	payload, err := events.DecodePayload(kind, event.Data)
	if err != nil {
		log.WithError(err).Warn("Inbound lifecycle event has malformed payload")
		return nil
	}

	r.bridge.Publish(events.LifecycleEvent{
		Kind:       kind,
		ReportID:   reportID,
		UserID:     event.Metadata["userId"],
		OccurredAt: event.Timestamp,
		Payload:    payload,
	})
	return nil
}
