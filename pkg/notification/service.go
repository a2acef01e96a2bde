package notification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qivo-mining/platform/pkg/common/logger"
)

const latencyWindow = 1000

// Service keeps the registry of live push connections, buffers events for
// users with no live connection and fans events out to matching clients.
type Service struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	buffers map[string][]Event

	totalConnections   atomic.Int64
	totalEventsSent    atomic.Int64
	droppedConnections atomic.Int64

	latencyMu  sync.Mutex
	latencies  [latencyWindow]float64
	latencyPos int
	latencyLen int
	latencySum float64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewService(cfg Config) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		clients: make(map[string]*client),
		buffers: make(map[string][]Event),
		stop:    make(chan struct{}),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// Start launches the heartbeat loop. It is a no-op after the first call.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.heartbeatLoop()
		logger.Log.WithFields(map[string]interface{}{
			"heartbeat_interval": s.cfg.HeartbeatInterval.String(),
			"max_connections":    s.cfg.MaxConnections,
		}).Info("Notification service started")
	})
}

// Connect registers a push connection and writes the "connected" event,
// followed by any events buffered for the user while they had no live
// connection. Nothing else reaches the stream before that handshake ends.
func (s *Service) Connect(id, userID string, stream Stream, kinds []EventType, metadata map[string]interface{}) error {
	c := newClient(id, userID, stream, kinds, metadata, s.now())

	c.mu.Lock()
	s.mu.Lock()
	if len(s.clients) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		c.mu.Unlock()
		logger.Log.WithFields(map[string]interface{}{
			"client_id": id,
			"user_id":   userID,
			"max":       s.cfg.MaxConnections,
		}).Warn("Rejecting connection: capacity reached")
		return ErrCapacityExceeded
	}
	if _, exists := s.clients[id]; exists {
		s.mu.Unlock()
		c.mu.Unlock()
		return ErrDuplicateConnection
	}
	s.clients[id] = c
	buffered := s.buffers[userID]
	delete(s.buffers, userID)
	s.mu.Unlock()

	s.totalConnections.Add(1)

	connected := s.prepare(Event{
		Type: EventConnected,
		Data: map[string]interface{}{
			"clientId":         id,
			"retryInterval":    s.cfg.RetryInterval.Milliseconds(),
			"subscribedEvents": c.subscribedLocked(),
		},
	})
	ok := s.writeLocked(c, connected)
	flushed := 0
	for _, ev := range buffered {
		if !ok {
			break
		}
		if !c.acceptsLocked(ev.Type) {
			continue
		}
		ok = s.writeLocked(c, ev)
		if ok {
			flushed++
		}
	}
	c.mu.Unlock()

	s.totalEventsSent.Add(int64(flushed))

	logger.Log.WithFields(map[string]interface{}{
		"client_id":      id,
		"user_id":        userID,
		"flushed_events": flushed,
		"active_clients": s.ActiveConnections(),
	}).Info("Client connected")

	if !ok {
		s.dropClient(c, "handshake write failed")
	}
	return nil
}

// Disconnect removes the connection and closes its stream. It returns false
// when the id is unknown, so repeated calls are harmless.
func (s *Service) Disconnect(id string) bool {
	c := s.remove(id)
	if c == nil {
		return false
	}
	s.closeClient(c)
	logger.Log.WithFields(map[string]interface{}{
		"client_id": id,
		"user_id":   c.userID,
		"duration":  s.now().Sub(c.connectedAt).String(),
	}).Info("Client disconnected")
	return true
}

func (s *Service) remove(id string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil
	}
	delete(s.clients, id)
	return c
}

func (s *Service) closeClient(c *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if err := c.stream.Close(); err != nil {
		logger.Log.WithError(err).WithField("client_id", c.id).Debug("Closing client stream")
	}
}

// dropClient disconnects a connection whose write failed.
func (s *Service) dropClient(c *client, reason string) {
	if s.remove(c.id) != c {
		return
	}
	s.droppedConnections.Add(1)
	s.closeClient(c)
	logger.Log.WithFields(map[string]interface{}{
		"client_id": c.id,
		"user_id":   c.userID,
		"reason":    reason,
	}).Warn("Dropped client connection")
}

// Broadcast sends the event to every connection whose filter accepts it and
// returns the number of successful deliveries.
func (s *Service) Broadcast(event Event) int {
	event = s.prepare(event)
	start := time.Now()

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	sent := s.deliverAll(targets, event)
	s.recordLatency(time.Since(start))

	logger.Log.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
		"sent":       sent,
		"clients":    len(targets),
	}).Debug("Broadcast event")
	return sent
}

// SendToUser delivers the event to the user's live connections. When the
// user has none, the event is kept in the user's buffer (oldest entries are
// dropped beyond the configured size) and 0 is returned.
func (s *Service) SendToUser(userID string, event Event) int {
	event = s.prepare(event)
	event.UserID = userID
	start := time.Now()

	s.mu.Lock()
	var targets []*client
	for _, c := range s.clients {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		s.bufferLocked(userID, event)
		s.mu.Unlock()
		logger.Log.WithFields(map[string]interface{}{
			"user_id":    userID,
			"event_type": event.Type,
		}).Debug("Buffered event for offline user")
		return 0
	}
	s.mu.Unlock()

	sent := s.deliverAll(targets, event)
	s.recordLatency(time.Since(start))
	return sent
}

func (s *Service) bufferLocked(userID string, event Event) {
	buf := append(s.buffers[userID], event)
	if over := len(buf) - s.cfg.BufferSize; over > 0 {
		buf = append([]Event(nil), buf[over:]...)
	}
	s.buffers[userID] = buf
}

// BufferedCount returns how many events are waiting for the user.
func (s *Service) BufferedCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers[userID])
}

func (s *Service) deliverAll(targets []*client, event Event) int {
	sent := 0
	for _, c := range targets {
		if s.deliver(c, event) {
			sent++
		}
	}
	s.totalEventsSent.Add(int64(sent))
	return sent
}

// deliver writes one event to one client if its filter accepts it. A failed
// write drops the connection.
func (s *Service) deliver(c *client, event Event) bool {
	c.mu.Lock()
	if c.closed || !c.acceptsLocked(event.Type) {
		c.mu.Unlock()
		return false
	}
	ok := s.writeLocked(c, event)
	c.mu.Unlock()
	if !ok {
		s.dropClient(c, "write failed")
	}
	return ok
}

// writeLocked writes a framed event. Caller holds c.mu.
func (s *Service) writeLocked(c *client, event Event) bool {
	if c.closed {
		return false
	}
	frame, err := formatEvent(event, s.cfg.RetryInterval)
	if err != nil {
		logger.Log.WithError(err).WithField("event_type", event.Type).Error("Failed to encode event")
		return false
	}
	if err := c.stream.Write(frame); err != nil {
		logger.Log.WithError(err).WithField("client_id", c.id).Debug("Write to client failed")
		return false
	}
	c.lastActivity = s.now()
	return true
}

func (s *Service) prepare(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	return event
}

// Subscribe adds event types to a connection's filter.
func (s *Service) Subscribe(clientID string, kinds ...EventType) error {
	c := s.lookup(clientID)
	if c == nil {
		return ErrClientNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		c.subscribed[k] = struct{}{}
	}
	return nil
}

// Unsubscribe removes event types from a connection's filter. Removing every
// type makes the filter empty again, which accepts all events.
func (s *Service) Unsubscribe(clientID string, kinds ...EventType) error {
	c := s.lookup(clientID)
	if c == nil {
		return ErrClientNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		delete(c.subscribed, k)
	}
	return nil
}

func (s *Service) lookup(id string) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id]
}

func (s *Service) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Service) Clients() []ClientInfo {
	s.mu.RLock()
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, c)
	}
	s.mu.RUnlock()

	out := make([]ClientInfo, 0, len(list))
	for _, c := range list {
		out = append(out, c.info())
	}
	return out
}

func (s *Service) Stats() Stats {
	return Stats{
		ActiveConnections:  s.ActiveConnections(),
		TotalConnections:   s.totalConnections.Load(),
		TotalEventsSent:    s.totalEventsSent.Load(),
		AvgLatencyMs:       s.avgLatency(),
		DroppedConnections: s.droppedConnections.Load(),
	}
}

// HealthCheck is healthy while there is spare capacity and the average
// delivery latency stays under 100ms.
func (s *Service) HealthCheck() Health {
	active := s.ActiveConnections()
	avg := s.avgLatency()
	return Health{
		Healthy:           active < s.cfg.MaxConnections && avg < 100,
		ActiveConnections: active,
		AvgLatencyMs:      avg,
	}
}

func (s *Service) recordLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	if s.latencyLen == latencyWindow {
		s.latencySum -= s.latencies[s.latencyPos]
	} else {
		s.latencyLen++
	}
	s.latencies[s.latencyPos] = ms
	s.latencySum += ms
	s.latencyPos = (s.latencyPos + 1) % latencyWindow
}

func (s *Service) avgLatency() float64 {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	if s.latencyLen == 0 {
		return 0
	}
	return s.latencySum / float64(s.latencyLen)
}

func (s *Service) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts connections idle past the timeout and sends a keep-alive
// comment to the rest. Keep-alives do not count as activity.
func (s *Service) sweep() {
	now := s.now()

	s.mu.RLock()
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, c)
	}
	s.mu.RUnlock()

	for _, c := range list {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		if now.Sub(c.lastActivity) > s.cfg.ConnectionTimeout {
			c.mu.Unlock()
			logger.Log.WithFields(map[string]interface{}{
				"client_id": c.id,
				"idle":      now.Sub(c.lastActivity).String(),
			}).Info("Evicting idle client")
			s.Disconnect(c.id)
			continue
		}
		err := c.stream.Write(formatHeartbeat(now))
		c.mu.Unlock()
		if err != nil {
			s.dropClient(c, "heartbeat write failed")
		}
	}
}

// Shutdown stops the heartbeat loop, tells every connection to reconnect
// before closing it, and discards buffered events.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		list := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			list = append(list, c)
		}
		s.clients = make(map[string]*client)
		s.buffers = make(map[string][]Event)
		s.mu.Unlock()

		reconnect := s.prepare(Event{
			Type: EventReconnect,
			Data: map[string]interface{}{"retryInterval": s.cfg.RetryInterval.Milliseconds()},
		})
		for _, c := range list {
			c.mu.Lock()
			s.writeLocked(c, reconnect)
			c.mu.Unlock()
			s.closeClient(c)
		}
		logger.Log.WithField("closed_clients", len(list)).Info("Notification service shut down")
	})
}
