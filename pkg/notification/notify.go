package notification

import (
	"fmt"

	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/qivo-mining/platform/pkg/events"
)

// Notify sends a user-facing notification. An empty userID broadcasts it.
func (s *Service) Notify(userID, message, level string, metadata map[string]interface{}) int {
	if level == "" {
		level = "info"
	}
	event := Event{
		Type: EventNotification,
		Data: map[string]interface{}{
			"message":  message,
			"level":    level,
			"metadata": metadata,
		},
	}
	if userID == "" {
		return s.Broadcast(event)
	}
	return s.SendToUser(userID, event)
}

// SystemStatus broadcasts a status change of the platform.
func (s *Service) SystemStatus(status, message string) int {
	return s.Broadcast(Event{
		Type: EventSystemStatus,
		Data: map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}

// RelayLifecycle forwards bridge events to clients from its own goroutine,
// so publishers never wait on client writes. Events addressed to a user go
// to that user's connections (or buffer) and terminal parsing outcomes are
// also announced to them as a notification; the rest are broadcast. The
// returned function stops the relay.
func (s *Service) RelayLifecycle(bridge *events.Bridge) func() {
	return bridge.SubscribeAsync(s.cfg.RelayBuffer, func(le events.LifecycleEvent) {
		event := FromLifecycle(le)
		if le.UserID == "" {
			s.Broadcast(event)
			return
		}
		s.SendToUser(le.UserID, event)
		if message, level, ok := outcomeNotice(le); ok {
			s.Notify(le.UserID, message, level, map[string]interface{}{"reportId": le.ReportID})
		}
	})
}

func outcomeNotice(le events.LifecycleEvent) (message, level string, ok bool) {
	switch p := le.Payload.(type) {
	case events.ParsingCompleted:
		if p.Status == models.ReportStatusNeedsReview {
			return fmt.Sprintf("Report %s parsed, %d fields need review", le.ReportID, p.Summary.UncertainFields), "warning", true
		}
		return fmt.Sprintf("Report %s parsed and ready for audit", le.ReportID), "success", true
	case events.ParsingFailed:
		return fmt.Sprintf("Report %s could not be parsed: %s", le.ReportID, p.Error), "error", true
	}
	return "", "", false
}

// FromLifecycle converts a bridge event into a push event of the same kind.
func FromLifecycle(le events.LifecycleEvent) Event {
	return Event{
		Type:      EventType(le.Kind),
		Data:      le.Data(),
		Timestamp: le.OccurredAt,
		Metadata:  map[string]interface{}{"reportId": le.ReportID},
	}
}
