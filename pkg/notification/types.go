package notification

import (
	"errors"
	"time"
)

// EventType is the SSE "event:" field. Lifecycle kinds from the event bridge
// are used verbatim; the constants below are the service's own events.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventReconnect    EventType = "reconnect"
	EventNotification EventType = "notification"
	EventSystemStatus EventType = "system:status"
)

var (
	ErrCapacityExceeded    = errors.New("notification: server capacity reached")
	ErrDuplicateConnection = errors.New("notification: connection id already registered")
	ErrClientNotFound      = errors.New("notification: client not found")
)

// Event is one message pushed to clients. ID and Timestamp are assigned by
// the service when left empty.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"userId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Stream is the push channel behind one client connection. Write must
// deliver (and flush) the whole frame or return an error. The service never
// calls Write concurrently on the same stream.
type Stream interface {
	Write(frame []byte) error
	Close() error
}

type Config struct {
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MaxConnections    int
	RetryInterval     time.Duration
	BufferSize        int
	// RelayBuffer bounds the lifecycle events waiting to be pushed.
	RelayBuffer       int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 5 * time.Minute,
		MaxConnections:    1000,
		RetryInterval:     3 * time.Second,
		BufferSize:        50,
		RelayBuffer:       1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.RelayBuffer <= 0 {
		c.RelayBuffer = def.RelayBuffer
	}
	return c
}

type Stats struct {
	ActiveConnections  int     `json:"activeConnections"`
	TotalConnections   int64   `json:"totalConnections"`
	TotalEventsSent    int64   `json:"totalEventsSent"`
	AvgLatencyMs       float64 `json:"avgLatency"`
	DroppedConnections int64   `json:"droppedConnections"`
}

type Health struct {
	Healthy           bool    `json:"healthy"`
	ActiveConnections int     `json:"activeConnections"`
	AvgLatencyMs      float64 `json:"avgLatency"`
}

type ClientInfo struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"userId"`
	ConnectedAt      time.Time              `json:"connectedAt"`
	SubscribedEvents []string               `json:"subscribedEvents"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
