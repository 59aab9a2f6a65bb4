package capability

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
)

// DefaultPollInterval spaces attribute tree reads while a peripheral boots its GATT server.
const DefaultPollInterval = 250 * time.Millisecond

// Resolver resolves capability sets and holds operator pins.
type Resolver struct {
	logger *logrus.Logger
	poll   time.Duration

	mu   sync.RWMutex
	pins map[string]Set
}

// NewResolver creates a resolver polling every poll (DefaultPollInterval when zero).
func NewResolver(poll time.Duration, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Resolver{
		logger: logger,
		poll:   poll,
		pins:   make(map[string]Set),
	}
}

func pinKey(deviceID string) string {
	return strings.ToLower(strings.TrimSpace(deviceID))
}

// Pin fixes the capability set for deviceID, bypassing the heuristic.
func (r *Resolver) Pin(deviceID string, set Set) error {
	valid, err := set.Validate()
	if err != nil {
		return err
	}
	valid.Pinned = true

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[pinKey(deviceID)] = valid
	return nil
}

// Unpin removes a pin.
func (r *Resolver) Unpin(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, pinKey(deviceID))
}

// Pinned returns the pin for deviceID, if any.
func (r *Resolver) Pinned(deviceID string) (Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.pins[pinKey(deviceID)]
	return set, ok
}

// Resolve reads the attribute tree of client until the heuristic finds a
// vendor endpoint or timeout elapses. Pinned devices resolve immediately.
func (r *Resolver) Resolve(ctx context.Context, deviceID string, client device.Client, timeout time.Duration) (Set, error) {
	if set, ok := r.Pinned(deviceID); ok {
		r.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"set":    set.String(),
		}).Info("Using pinned capabilities")
		return set, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	attempts := 0
	for {
		attempts++
		services, err := client.DiscoverProfile(ctx)
		if err != nil {
			lastErr = err
		} else if set, ok := Select(services); ok {
			r.logger.WithFields(logrus.Fields{
				"device":   deviceID,
				"set":      set.String(),
				"attempts": attempts,
			}).Info("Capabilities resolved")
			return set, nil
		}

		select {
		case <-ctx.Done():
			r.logger.WithFields(logrus.Fields{
				"device":   deviceID,
				"attempts": attempts,
				"error":    lastErr,
			}).Warn("Capability resolution failed")
			return Set{}, device.NewError(device.KindCapabilityUnresolved, deviceID, "no vendor service with a writable characteristic", lastErr)
		case <-time.After(r.poll):
		}
	}
}
