//go:build linux

package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/srg/printlink/internal/bluez"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

func (p *Platform) removeBond() func(ctx context.Context, address string) error {
	adapter := p.bluezAdapter
	return func(ctx context.Context, address string) error {
		return bluez.RemoveDevice(ctx, adapter, address)
	}
}
