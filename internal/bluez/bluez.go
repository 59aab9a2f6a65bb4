// Package bluez talks to the BlueZ daemon over the system D-Bus for the
// pairing-record operations go-ble does not expose.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName            = "org.bluez"
	adapterInterface   = "org.bluez.Adapter1"
	errDoesNotExist    = "org.bluez.Error.DoesNotExist"
	errNotAvailable    = "org.bluez.Error.NotAvailable"
	defaultAdapterName = "hci0"
)

// AdapterPath returns the object path of a BlueZ adapter, e.g. /org/bluez/hci0.
func AdapterPath(adapter string) dbus.ObjectPath {
	if adapter == "" {
		adapter = defaultAdapterName
	}
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath returns the object path BlueZ uses for address under adapter.
func DevicePath(adapter, address string) dbus.ObjectPath {
	mangled := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(address)), ":", "_")
	return AdapterPath(adapter) + dbus.ObjectPath("/dev_"+mangled)
}

// RemoveDevice drops the device object and its bond from BlueZ.
// A device BlueZ does not know about is not an error.
func RemoveDevice(ctx context.Context, adapter, address string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	return removeDevice(ctx, conn.Object(busName, AdapterPath(adapter)), adapter, address)
}

func removeDevice(ctx context.Context, obj dbus.BusObject, adapter, address string) error {
	devPath := DevicePath(adapter, address)
	call := obj.CallWithContext(ctx, adapterInterface+".RemoveDevice", 0, devPath)
	if call.Err == nil {
		return nil
	}

	if isMissing(call.Err) {
		return nil
	}
	return fmt.Errorf("failed to remove device %s: %w", devPath, call.Err)
}

// isMissing matches BlueZ replies meaning there is no bond to remove.
func isMissing(err error) bool {
	var name string
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		name = dbusErr.Name
	case errors.As(err, &dbusErrPtr):
		name = dbusErrPtr.Name
	default:
		return false
	}
	return name == errDoesNotExist || name == errNotAvailable
}
