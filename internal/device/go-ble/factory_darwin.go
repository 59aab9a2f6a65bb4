//go:build darwin

package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// CoreBluetooth keeps pairing records private to the OS.
func (p *Platform) removeBond() func(ctx context.Context, address string) error {
	return nil
}
