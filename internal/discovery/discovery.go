// Package discovery scans for peripherals, keeps the observation cache and
// decides whether a device has actually been seen on air.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
)

// Identity is what discovery knows about a peripheral.
type Identity struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName,omitempty"`
	SignalStrength *int      `json:"signalStrength,omitempty"`
	Connectable    bool      `json:"connectable"`
	Services       []string  `json:"services,omitempty"`
	LastSeen       time.Time `json:"lastSeen"`
}

// FoundCallback receives named devices during a scan.
type FoundCallback func(Identity)

// Initializer brings the radio up before scanning.
type Initializer interface {
	Initialize(ctx context.Context) error
	Platform() device.Platform
}

// ScanOptions configures a scan pass.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Discovery owns the device cache. Scans are serialized: the radio runs one at a time.
type Discovery struct {
	adapter Initializer
	logger  *logrus.Logger
	maxAge  time.Duration
	devices *hashmap.Map[string, Identity]
	scanSem chan struct{}
	now     func() time.Time
}

// Option configures Discovery.
type Option func(*Discovery)

// WithMaxAge makes cache entries older than d count as not observed. Zero keeps them forever.
func WithMaxAge(d time.Duration) Option {
	return func(s *Discovery) {
		s.maxAge = d
	}
}

// New creates a Discovery over adapter.
func New(adapter Initializer, logger *logrus.Logger, opts ...Option) *Discovery {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Discovery{
		adapter: adapter,
		logger:  logger,
		devices: hashmap.New[string, Identity](),
		scanSem: make(chan struct{}, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Scan runs one active scan pass for duration and reports named devices.
func (s *Discovery) Scan(ctx context.Context, duration time.Duration, onFound FoundCallback) error {
	opts := DefaultScanOptions()
	opts.Duration = duration
	return s.ScanWithOptions(ctx, opts, onFound)
}

// ScanWithOptions is Scan with filters. Every advertisement updates the cache;
// onFound fires once per device per pass, the first time it shows a name and
// passes the filters.
func (s *Discovery) ScanWithOptions(ctx context.Context, opts *ScanOptions, onFound FoundCallback) error {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if onFound == nil {
		onFound = func(Identity) {}
	}

	// Backends may deliver advertisements from several goroutines.
	var mu sync.Mutex
	reported := make(map[string]struct{})
	return s.scan(ctx, opts.Duration, opts.DuplicateFilter, func(id Identity, adv device.Advertisement) bool {
		key := cacheKey(id.ID)
		if id.DisplayName == "" || !shouldInclude(adv, opts) {
			return false
		}
		mu.Lock()
		_, dup := reported[key]
		reported[key] = struct{}{}
		mu.Unlock()
		if !dup {
			onFound(id)
		}
		return false
	})
}

// EnsureObserved reports whether deviceID is cached or is seen within a fresh
// scan window. The scan stops as soon as the device shows up.
func (s *Discovery) EnsureObserved(ctx context.Context, deviceID string, window time.Duration) (bool, error) {
	if strings.TrimSpace(deviceID) == "" {
		return false, fmt.Errorf("device id is empty")
	}
	if _, ok := s.Lookup(deviceID); ok {
		return true, nil
	}

	want := cacheKey(deviceID)
	var seen atomic.Bool
	err := s.scan(ctx, window, true, func(id Identity, _ device.Advertisement) bool {
		if cacheKey(id.ID) == want {
			seen.Store(true)
			return true
		}
		return false
	})
	if err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"device":   deviceID,
		"observed": seen.Load(),
		"window":   window,
	}).Debug("Presence check finished")
	return seen.Load(), nil
}

// scan runs the radio for duration; visit returning true stops it early.
func (s *Discovery) scan(ctx context.Context, duration time.Duration, dupFilter bool, visit func(Identity, device.Advertisement) bool) error {
	if err := s.adapter.Initialize(ctx); err != nil {
		return err
	}

	select {
	case s.scanSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.scanSem }()

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, duration)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.logger.WithField("duration", duration).Debug("Starting BLE scan...")

	err := s.adapter.Platform().Scan(scanCtx, !dupFilter, func(adv device.Advertisement) {
		id := s.upsert(adv)
		if visit(id, adv) {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Debug("BLE scan completed")
	return ctx.Err()
}

// upsert merges an advertisement into the cache and returns the merged identity.
func (s *Discovery) upsert(adv device.Advertisement) Identity {
	rssi := adv.RSSI()
	id := Identity{
		ID:             adv.Addr(),
		DisplayName:    strings.TrimSpace(adv.LocalName()),
		SignalStrength: &rssi,
		Connectable:    adv.Connectable(),
		Services:       device.NormalizeUUIDs(adv.Services()),
		LastSeen:       s.now(),
	}

	key := cacheKey(id.ID)
	prev, existing := s.devices.Get(key)
	if existing {
		if id.DisplayName == "" {
			id.DisplayName = prev.DisplayName
		}
		if len(id.Services) == 0 {
			id.Services = prev.Services
		}
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  id.DisplayName,
			"address": id.ID,
			"rssi":    rssi,
		}).Info("Discovered new device")
	}
	s.devices.Set(key, id)
	return id
}

// Lookup returns the cached identity for deviceID, honoring the max age.
func (s *Discovery) Lookup(deviceID string) (Identity, bool) {
	id, ok := s.devices.Get(cacheKey(deviceID))
	if !ok || s.expired(id) {
		return Identity{}, false
	}
	return id, true
}

func (s *Discovery) expired(id Identity) bool {
	return s.maxAge > 0 && s.now().Sub(id.LastSeen) > s.maxAge
}

// Devices returns a snapshot of the cache sorted by id.
func (s *Discovery) Devices() []Identity {
	devs := make([]Identity, 0, s.devices.Len())
	s.devices.Range(func(_ string, id Identity) bool {
		if !s.expired(id) {
			devs = append(devs, id)
		}
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		return cacheKey(devs[i].ID) < cacheKey(devs[j].ID)
	})
	return devs
}

// Forget evicts deviceID so the next connect requires a fresh observation.
func (s *Discovery) Forget(deviceID string) {
	s.devices.Del(cacheKey(deviceID))
}

// shouldInclude applies the allow/block/service filters.
func shouldInclude(adv device.Advertisement, opts *ScanOptions) bool {
	addr := cacheKey(adv.Addr())

	for _, blocked := range opts.BlockList {
		if addr == cacheKey(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == cacheKey(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		advertised := device.NormalizeUUIDs(adv.Services())
		for _, required := range opts.ServiceUUIDs {
			want := device.NormalizeUUID(required)
			for _, got := range advertised {
				if got == want {
					return true
				}
			}
		}
		return false
	}

	return true
}
