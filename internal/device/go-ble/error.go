package goble

import (
	"fmt"
	"strings"

	"github.com/srg/printlink/internal/device"
)

// NormalizeError maps known go-ble error strings to structured device errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "central manager has invalid state"):
		return device.NewError(device.KindAdapterUnavailable, "", "bluetooth is not powered on", err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return device.NewError(device.KindAdapterUnavailable, "", "", err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no devices available"):
		return device.NewError(device.KindAdapterUnavailable, "", "no HCI device", err)
	case containsIgnoreCase(msg, "operation not permitted"), containsIgnoreCase(msg, "unauthorized"):
		return device.NewError(device.KindPermissionDenied, "", "", err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
