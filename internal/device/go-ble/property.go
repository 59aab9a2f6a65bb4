package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/printlink/internal/device"
)

// NewProperties converts ble.Property bit flags to a device.Property mask.
// Broadcast, signed-write and extended properties have no bearing on the
// request/response protocol and are dropped.
func NewProperties(p ble.Property) device.Property {
	var props device.Property

	if p&ble.CharRead != 0 {
		props |= device.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		props |= device.PropWriteNoResponse
	}
	if p&ble.CharWrite != 0 {
		props |= device.PropWrite
	}
	if p&ble.CharNotify != 0 {
		props |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		props |= device.PropIndicate
	}

	return props
}

// useIndication reports whether a subscription must use indications because
// the characteristic does not support notifications.
func useIndication(p ble.Property) bool {
	return p&ble.CharNotify == 0 && p&ble.CharIndicate != 0
}
