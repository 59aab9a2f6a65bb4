// Package adapter owns radio bring-up: power and permissions, done once per process.
package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
	"golang.org/x/sync/singleflight"
)

const initKey = "initialize"

// Manager initializes a device.Platform. Concurrent Initialize calls share one
// in-flight attempt; success is remembered, failure is retried on the next call.
type Manager struct {
	platform device.Platform
	logger   *logrus.Logger
	group    singleflight.Group

	mu    sync.RWMutex
	ready bool
	caps  device.Capabilities
}

// NewManager wraps platform. Nothing touches the radio until Initialize.
func NewManager(platform device.Platform, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{platform: platform, logger: logger}
}

// Initialize powers the radio and requests permissions when the platform
// has a prompt. Errors are AdapterUnavailable or PermissionDenied.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.Ready() {
		return nil
	}

	ch := m.group.DoChan(initKey, func() (interface{}, error) {
		if m.Ready() {
			return nil, nil
		}
		// Detached so one caller's cancellation does not fail the others.
		return nil, m.initialize(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) initialize(ctx context.Context) error {
	m.logger.Debug("Initializing BLE adapter...")

	if err := m.platform.PowerOn(ctx); err != nil {
		m.logger.WithField("error", err).Warn("BLE adapter power-on failed")
		if errors.Is(err, device.ErrAdapterUnavailable) || errors.Is(err, device.ErrPermissionDenied) {
			return err
		}
		return device.NewError(device.KindAdapterUnavailable, "", "radio power-on failed", err)
	}

	caps := m.platform.Capabilities()
	if caps.RequestPermissions != nil {
		granted, err := caps.RequestPermissions(ctx)
		if err != nil {
			return device.NewError(device.KindPermissionDenied, "", "permission request failed", err)
		}
		if !granted {
			m.logger.Warn("Bluetooth permission declined")
			return device.NewError(device.KindPermissionDenied, "", "bluetooth permission declined", nil)
		}
	}

	m.mu.Lock()
	m.caps = caps
	m.ready = true
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"remove_bond":     caps.RemoveBond != nil,
		"live_connection": caps.LiveConnection != nil,
		"exchange_mtu":    caps.ExchangeMTU != nil,
	}).Info("BLE adapter ready")
	return nil
}

// Ready reports whether Initialize has succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Platform returns the wrapped platform.
func (m *Manager) Platform() device.Platform {
	return m.platform
}

// Capabilities returns the primitives negotiated by Initialize; all slots
// are nil before it succeeds.
func (m *Manager) Capabilities() device.Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}
