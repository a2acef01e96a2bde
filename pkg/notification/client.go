package notification

import (
	"sort"
	"sync"
	"time"
)

// client is one live push connection. mu serializes writes to the stream and
// guards every mutable field.
type client struct {
	id          string
	userID      string
	stream      Stream
	connectedAt time.Time
	metadata    map[string]interface{}

	mu           sync.Mutex
	lastActivity time.Time
	subscribed   map[EventType]struct{}
	closed       bool
}

func newClient(id, userID string, stream Stream, kinds []EventType, metadata map[string]interface{}, now time.Time) *client {
	c := &client{
		id:           id,
		userID:       userID,
		stream:       stream,
		connectedAt:  now,
		lastActivity: now,
		metadata:     metadata,
		subscribed:   make(map[EventType]struct{}),
	}
	for _, k := range kinds {
		if k != "" {
			c.subscribed[k] = struct{}{}
		}
	}
	return c
}

// acceptsLocked reports whether the event passes the client's filter. An
// empty filter accepts everything. Caller holds c.mu.
func (c *client) acceptsLocked(t EventType) bool {
	if len(c.subscribed) == 0 {
		return true
	}
	_, ok := c.subscribed[t]
	return ok
}

func (c *client) subscribedLocked() []string {
	out := make([]string, 0, len(c.subscribed))
	for k := range c.subscribed {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:               c.id,
		UserID:           c.userID,
		ConnectedAt:      c.connectedAt,
		SubscribedEvents: c.subscribedLocked(),
		Metadata:         c.metadata,
	}
}
