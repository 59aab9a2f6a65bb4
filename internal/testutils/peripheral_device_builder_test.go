package testutils

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/srg/printlink/internal/device"
	"github.com/stretchr/testify/suite"
)

// PeripheralDeviceBuilderTestSuite tests PeripheralDeviceBuilder functionality
type PeripheralDeviceBuilderTestSuite struct {
	suite.Suite
}

func (s *PeripheralDeviceBuilderTestSuite) servicesJSON(services []device.ServiceInfo) string {
	out := make([]map[string]any, 0, len(services))
	for _, svc := range services {
		chars := make([]map[string]any, 0, len(svc.Characteristics))
		for _, ch := range svc.Characteristics {
			chars = append(chars, map[string]any{"uuid": ch.UUID, "properties": ch.Properties.String()})
		}
		out = append(out, map[string]any{"uuid": svc.UUID, "characteristics": chars})
	}
	b, err := json.Marshal(map[string]any{"services": out})
	s.Require().NoError(err)
	return string(b)
}

// TestFluentBuilder verifies services and characteristics are added in order
// with normalized ids and parsed properties.
func (s *PeripheralDeviceBuilderTestSuite) TestFluentBuilder() {
	b := NewPeripheralDeviceBuilder("AA:BB").
		WithName("Printer").
		WithService("180F").
		WithCharacteristic("2A19", "read,notify").
		WithService("F000AA00-0451-4000-B000-000000000000").
		WithCharacteristic("F000AA01-0451-4000-B000-000000000000", "write,notify")

	NewJSONAsserter(s.T()).Assert(s.servicesJSON(b.Services()), `{"services": [
		{"uuid": "180f", "characteristics": [{"uuid": "2a19", "properties": "read,notify"}]},
		{"uuid": "f000aa0004514000b000000000000000", "characteristics": [
			{"uuid": "f000aa0104514000b000000000000000", "properties": "write,notify"}
		]}
	]}`)

	adv := b.Advertisement()
	s.Equal("Printer", adv.LocalName())
	s.Equal("AA:BB", adv.Addr())
	s.True(adv.Connectable())
}

// TestWithCharacteristicRequiresService verifies misuse panics.
func (s *PeripheralDeviceBuilderTestSuite) TestWithCharacteristicRequiresService() {
	s.Panics(func() {
		NewPeripheralDeviceBuilder("AA:BB").WithCharacteristic("2A19", "read")
	}, "a characteristic without a service MUST panic")
}

// TestPrinterPeripheral verifies the canned printer profile.
func (s *PeripheralDeviceBuilderTestSuite) TestPrinterPeripheral() {
	b := NewPrinterPeripheral("AA:BB", "Ender")
	s.Equal("Ender", b.Advertisement().LocalName())
	s.Equal(-52, b.Advertisement().RSSI())

	services := b.Services()
	s.Require().Len(services, 3)
	req, err := device.FindCharacteristic(services, PrinterService, PrinterRequestChar)
	s.Require().NoError(err, "request characteristic MUST exist")
	s.True(req.Properties.CanWrite())
	resp, err := device.FindCharacteristic(services, PrinterService, PrinterResponseChar)
	s.Require().NoError(err, "response characteristic MUST exist")
	s.True(resp.Properties.CanNotify())
}

// TestInstall verifies the peripheral is advertised and dialable.
func (s *PeripheralDeviceBuilderTestSuite) TestInstall() {
	platform := NewFakePlatform()
	client := NewPrinterPeripheral("AA:BB", "Ender").Install(platform)

	dialed, err := platform.Dial(context.Background(), "aa:bb")
	s.Require().NoError(err, "installed peripheral MUST be dialable case-insensitively")
	s.Same(client, dialed)
}

// TestFromJSONRejectsGarbage verifies malformed profiles panic early.
func (s *PeripheralDeviceBuilderTestSuite) TestFromJSONRejectsGarbage() {
	s.Panics(func() { NewPeripheralDeviceBuilder("AA:BB").FromJSON(`{"services": [`) })
}

func TestPeripheralDeviceBuilderTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralDeviceBuilderTestSuite))
}
