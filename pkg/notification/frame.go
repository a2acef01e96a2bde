package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// formatEvent renders one SSE message:
//
//	id: <id>\nevent: <type>\ndata: <json>\nretry: <ms>\n\n
//
// encoding/json escapes newlines, so data always fits on one line.
func formatEvent(event Event, retry time.Duration) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event data: %w", event.Type, err)
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\nretry: %d\n\n",
		event.ID, event.Type, data, retry.Milliseconds())), nil
}

// formatHeartbeat renders the keep-alive comment line.
func formatHeartbeat(now time.Time) []byte {
	return []byte(fmt.Sprintf(":heartbeat %d\n\n", now.UnixMilli()))
}
