package main

import (
	"errors"
	"fmt"

	"github.com/srg/printlink/internal/device"
)

var hints = map[device.Kind]string{
	device.KindPermissionDenied:            "grant Bluetooth access to this terminal and retry",
	device.KindAdapterUnavailable:          "check that Bluetooth is switched on and an adapter is present",
	device.KindDeviceNotObserved:           "make sure the printer is powered and advertising, then run 'printlink scan'",
	device.KindConnectTimeout:              "move closer to the printer or run 'printlink reset <device>' to clear a stale bond",
	device.KindCapabilityUnresolved:        "pin the channel with --service/--request/--response",
	device.KindStandardServiceWriteBlocked: "standard Bluetooth services cannot carry printer commands",
	device.KindOperationTimeout:            "the printer did not send a complete reply; try a longer --timeout",
	device.KindUnexpectedDisconnect:        "the printer dropped the link; reconnect and retry",
}

// FormatUserError renders err for the terminal, adding a hint for known failure kinds.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var perr *device.Error
	if errors.As(err, &perr) {
		msg := perr.Msg
		if msg == "" {
			msg = string(perr.Kind)
		}
		if perr.DeviceID != "" {
			msg = fmt.Sprintf("%s: %s", perr.DeviceID, msg)
		}
		if hint, ok := hints[perr.Kind]; ok {
			msg = fmt.Sprintf("%s (%s)", msg, hint)
		}
		return msg
	}

	if device.IsConnectionState(err, device.AlreadyConnected) {
		return fmt.Sprintf("%s (already connected)", err)
	}
	var nf *device.NotFoundError
	if errors.As(err, &nf) {
		return fmt.Sprintf("%s (run 'printlink inspect <device>' to list the GATT tree)", nf)
	}
	return err.Error()
}
