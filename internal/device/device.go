package device

import (
	"context"
	"strings"
)

// Advertisement is a single scan observation of a peripheral.
type Advertisement interface {
	LocalName() string
	RSSI() int
	Addr() string
	Services() []string
	Connectable() bool
}

// Scanner performs active BLE scans until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Dialer opens a GATT client connection to a peripheral.
type Dialer interface {
	Dial(ctx context.Context, address string) (Client, error)
}

// Client represents a live GATT client link to a single peripheral.
//
// Service and characteristic UUIDs are accepted in any form NormalizeUUID understands.
type Client interface {
	Address() string

	// DiscoverProfile reads the peripheral attribute tree.
	DiscoverProfile(ctx context.Context) ([]ServiceInfo, error)

	WriteCharacteristic(service, char string, data []byte, noResponse bool) error
	Subscribe(service, char string, handler func([]byte)) error
	Unsubscribe(service, char string) error

	CancelConnection() error

	// Disconnected is closed when the link drops. It may return nil when the
	// backend cannot report link loss.
	Disconnected() <-chan struct{}
}

// Platform is the host radio: scanning, dialing and the optional primitives it offers.
type Platform interface {
	Scanner
	Dialer

	// PowerOn brings the radio up. Errors are reported as AdapterUnavailable.
	PowerOn(ctx context.Context) error
	Capabilities() Capabilities
}

// Capabilities lists optional platform primitives. A nil slot means the
// platform does not offer the primitive; callers check the slot instead of
// probing the backend.
type Capabilities struct {
	// RequestPermissions shows the platform permission prompt once.
	RequestPermissions func(ctx context.Context) (granted bool, err error)

	// RemoveBond clears the OS-level pairing record for address.
	RemoveBond func(ctx context.Context, address string) error

	// LiveConnection returns a link the OS already holds for address.
	LiveConnection func(ctx context.Context, address string) (Client, bool)

	// ExchangeMTU requests a larger ATT MTU and returns the negotiated value.
	ExchangeMTU func(client Client, mtu int) (int, error)
}

// ServiceInfo is one service of a discovered attribute tree.
type ServiceInfo struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo is one characteristic of a discovered attribute tree.
type CharacteristicInfo struct {
	UUID       string
	Properties Property
}

// Property is a bitmask of characteristic properties.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// CanWrite reports whether either write primitive is supported.
func (p Property) CanWrite() bool {
	return p&(PropWrite|PropWriteNoResponse) != 0
}

// CanNotify reports whether notify or indicate is supported.
func (p Property) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

func (p Property) String() string {
	var names []string
	if p&PropRead != 0 {
		names = append(names, "read")
	}
	if p&PropWrite != 0 {
		names = append(names, "write")
	}
	if p&PropWriteNoResponse != 0 {
		names = append(names, "write-without-response")
	}
	if p&PropNotify != 0 {
		names = append(names, "notify")
	}
	if p&PropIndicate != 0 {
		names = append(names, "indicate")
	}
	return strings.Join(names, ",")
}

// ParseProperties converts a comma separated list such as "write,notify".
// Unknown names are ignored.
func ParseProperties(s string) Property {
	var p Property
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "read":
			p |= PropRead
		case "write":
			p |= PropWrite
		case "write-without-response", "writenr", "write_no_response":
			p |= PropWriteNoResponse
		case "notify":
			p |= PropNotify
		case "indicate":
			p |= PropIndicate
		}
	}
	return p
}

// FindCharacteristic looks up a characteristic in a discovered tree.
func FindCharacteristic(services []ServiceInfo, service, char string) (CharacteristicInfo, error) {
	svcUUID := NormalizeUUID(service)
	charUUID := NormalizeUUID(char)
	for _, svc := range services {
		if NormalizeUUID(svc.UUID) != svcUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			if NormalizeUUID(c.UUID) == charUUID {
				return c, nil
			}
		}
		return CharacteristicInfo{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}
	return CharacteristicInfo{}, &NotFoundError{Resource: "service", UUIDs: []string{service}}
}
