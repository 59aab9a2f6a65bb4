// Package chanlock serializes operations on a (device, service, characteristic)
// channel. Operations sharing a key run one at a time in arrival order; distinct
// keys never wait on each other.
package chanlock

import (
	"fmt"
	"sync"

	"github.com/srg/printlink/internal/device"
)

// Key identifies a GATT channel.
type Key struct {
	DeviceID       string
	ServiceUUID    string
	Characteristic string
}

// NewKey builds a Key with normalized UUIDs.
func NewKey(deviceID, service, char string) Key {
	return Key{
		DeviceID:       deviceID,
		ServiceUUID:    device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(char),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DeviceID, k.ServiceUUID, k.Characteristic)
}

// queue is the FIFO of waiters for one key. The head of the line is running;
// waiters hold a channel that is closed when it is their turn.
type queue struct {
	waiters []chan struct{}
}

// Locker maps keys to FIFO queues. The zero value is ready to use.
type Locker struct {
	mu     sync.Mutex
	queues map[Key]*queue
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{}
}

// WithLock runs fn once every earlier call for key has finished, successfully
// or not. The key's entry is removed as soon as its queue drains.
func (l *Locker) WithLock(key Key, fn func() error) error {
	l.acquire(key)
	defer l.release(key)
	return fn()
}

func (l *Locker) acquire(key Key) {
	l.mu.Lock()
	if l.queues == nil {
		l.queues = make(map[Key]*queue)
	}
	q, busy := l.queues[key]
	if !busy {
		l.queues[key] = &queue{}
		l.mu.Unlock()
		return
	}
	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	l.mu.Unlock()

	<-turn
}

func (l *Locker) release(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[key]
	if len(q.waiters) == 0 {
		delete(l.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	close(next)
}

// Len returns the number of keys with a running or waiting operation.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// Waiting returns the number of operations queued behind the running one for key.
func (l *Locker) Waiting(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.queues[key]; ok {
		return len(q.waiters)
	}
	return 0
}
