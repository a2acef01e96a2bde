package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/qivo-mining/platform/pkg/common/logger"
)

// Listener receives every event a subscription accepts. Listeners registered
// with Subscribe run on the publisher's goroutine; anything that may block
// belongs behind SubscribeAsync.
type Listener func(LifecycleEvent)

type subscription struct {
	id       uint64
	listener Listener
}

// Bridge is an in-process publish/subscribe registry for lifecycle events.
// Publication is synchronous and reaches subscribers in registration order.
type Bridge struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// DefaultMailboxSize is the mailbox capacity SubscribeAsync uses when given
// a non-positive size.
const DefaultMailboxSize = 256

// Subscribe registers a listener for every event and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (b *Bridge) Subscribe(listener Listener) func() {
	id := b.add(listener)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// SubscribeAsync registers a listener that runs on its own goroutine, fed in
// publication order through a mailbox of the given size. Publish never waits
// on it: an event arriving while the mailbox is full is dropped and logged.
// Unsubscribing stops the goroutine and discards undelivered events.
func (b *Bridge) SubscribeAsync(size int, listener Listener) func() {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	mailbox := make(chan LifecycleEvent, size)
	done := make(chan struct{})

	id := b.add(func(event LifecycleEvent) {
		select {
		case mailbox <- event:
		default:
			logger.Log.WithFields(map[string]interface{}{
				"event_kind": event.Kind,
				"report_id":  event.ReportID,
				"mailbox":    size,
			}).Warn("Lifecycle mailbox full, dropping event")
		}
	})

	sub := subscription{id: id, listener: listener}
	go func() {
		for {
			select {
			case <-done:
				return
			case event := <-mailbox:
				b.invoke(sub, event)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(id)
			close(done)
		})
	}
}

func (b *Bridge) add(listener Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, listener: listener})
	return b.nextID
}

// SubscribeToReport registers a listener that only sees events for reportID.
func (b *Bridge) SubscribeToReport(reportID string, listener Listener) func() {
	return b.Subscribe(func(event LifecycleEvent) {
		if event.ReportID == reportID {
			listener(event)
		}
	})
}

func (b *Bridge) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish fans the event out to the current subscribers. A panicking
// listener is logged and skipped; the remaining listeners still run.
func (b *Bridge) Publish(event LifecycleEvent) {
	if event.Payload != nil && event.Kind == "" {
		event.Kind = event.Payload.Kind()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	logger.Log.WithFields(map[string]interface{}{
		"event_kind":  event.Kind,
		"report_id":   event.ReportID,
		"subscribers": len(subs),
	}).Debug("Publishing lifecycle event")

	for _, sub := range subs {
		b.invoke(sub, event)
	}
}

func (b *Bridge) invoke(sub subscription, event LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"event_kind":      event.Kind,
				"report_id":       event.ReportID,
				"subscription_id": sub.id,
				"panic":           fmt.Sprint(r),
				"stack":           string(debug.Stack()),
			}).Error("Lifecycle listener panicked")
		}
	}()
	sub.listener(event)
}

// SubscriberCount is the number of live subscriptions.
func (b *Bridge) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
