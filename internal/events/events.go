// Package events carries session lifecycle notifications to the host application.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/ringchan"
)

// Type is the kind of session event.
type Type string

const (
	Connected    Type = "connected"
	Disconnected Type = "disconnected"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe gets 0.
const DefaultBuffer = 16

// Event is a single session notification.
type Event struct {
	Type       Type      `json:"type"`
	DeviceID   string    `json:"deviceId"`
	Unexpected bool      `json:"unexpected,omitempty"` // disconnect not initiated by the caller
	At         time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: each subscriber
// owns a bounded queue that drops its oldest event when full.
type Bus struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*ringchan.RingChannel[Event]
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*ringchan.RingChannel[Event]),
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	rc := ringchan.New[Event](buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		rc.Close()
		return rc.C(), func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = rc

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			rc.Close()
		})
	}
	return rc.C(), cancel
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, rc := range b.subs {
		if rc.Send(ev) {
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      ev.Type,
				"device":     ev.DeviceID,
			}).Debug("Event queue full, dropped oldest event")
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, rc := range b.subs {
		rc.Close()
		delete(b.subs, id)
	}
}
