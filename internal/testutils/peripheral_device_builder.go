package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/printlink/internal/device"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Name     string          `json:"name,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a fake peripheral: its advertisement and its GATT link.
type PeripheralDeviceBuilder struct {
	address string
	profile DeviceProfileConfig
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder(address string) *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{address: address}
}

// WithName sets the advertised local name.
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.profile.Name = name
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// Services returns the attribute tree described by the profile.
func (b *PeripheralDeviceBuilder) Services() []device.ServiceInfo {
	services := make([]device.ServiceInfo, 0, len(b.profile.Services))
	for _, svc := range b.profile.Services {
		info := device.ServiceInfo{UUID: device.NormalizeUUID(svc.UUID)}
		for _, ch := range svc.Characteristics {
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{
				UUID:       device.NormalizeUUID(ch.UUID),
				Properties: device.ParseProperties(ch.Properties),
			})
		}
		services = append(services, info)
	}
	return services
}

// Advertisement returns the advertisement this peripheral broadcasts.
func (b *PeripheralDeviceBuilder) Advertisement() *FakeAdvertisement {
	return &FakeAdvertisement{Name: b.profile.Name, Address: b.address, Signal: b.profile.RSSI}
}

// Build creates the fake GATT link for the peripheral.
func (b *PeripheralDeviceBuilder) Build() *FakeClient {
	return NewFakeClient(b.address, b.Services())
}

// Install advertises the peripheral on platform and registers its link.
func (b *PeripheralDeviceBuilder) Install(platform *FakePlatform) *FakeClient {
	client := b.Build()
	platform.Advertise(b.Advertisement()).AddClient(client)
	return client
}

// PrinterProfileJSON is a typical printer radio: GAP and battery services plus
// a vendor service with separate request and response characteristics.
const PrinterProfileJSON = `{
	"name": %q,
	"rssi": -52,
	"services": [
		{"uuid": "1800", "characteristics": [{"uuid": "2A00", "properties": "read"}]},
		{"uuid": "180F", "characteristics": [{"uuid": "2A19", "properties": "read,notify"}]},
		{
			"uuid": "F000AA00-0451-4000-B000-000000000000",
			"characteristics": [
				{"uuid": "F000AA01-0451-4000-B000-000000000000", "properties": "write,write-without-response,notify"},
				{"uuid": "F000AA02-0451-4000-B000-000000000000", "properties": "notify"}
			]
		}
	]
}`

// Printer profile identifiers.
const (
	PrinterService      = "f000aa0004514000b000000000000000"
	PrinterRequestChar  = "f000aa0104514000b000000000000000"
	PrinterResponseChar = "f000aa0204514000b000000000000000"
)

// NewPrinterPeripheral returns a builder preloaded with PrinterProfileJSON.
func NewPrinterPeripheral(address, name string) *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder(address).FromJSON(PrinterProfileJSON, name)
}
