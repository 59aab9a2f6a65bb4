package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/discovery"
	"github.com/srg/printlink/internal/testutils"
	"github.com/stretchr/testify/require"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestWriteDeviceTable(t *testing.T) {
	withoutColor(t)
	rssi := -40
	devices := []discovery.Identity{
		{ID: "AA:BB", DisplayName: "Ender", SignalStrength: &rssi, Services: []string{"f000aa0004514000b000000000000000", "180f"}},
		{ID: "CC:DD", DisplayName: "Prusa"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeDeviceTable(&buf, devices))

	testutils.NewTextAsserter(t).Assert(buf.String(), `
NAME   ADDRESS  RSSI  SERVICES
Ender  AA:BB    -40   f000aa00,180f
Prusa  CC:DD    -
`)
}

func TestWriteDeviceTableEmpty(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	require.NoError(t, writeDeviceTable(&buf, nil))
	testutils.NewTextAsserter(t).Assert(buf.String(), "No printers found")
}

func TestWriteInspectReport(t *testing.T) {
	withoutColor(t)
	report := inspectReport{
		DeviceID: "AA:BB",
		Services: []device.ServiceInfo{
			{UUID: "180f", Characteristics: []device.CharacteristicInfo{{UUID: "2a19", Properties: device.PropRead | device.PropNotify}}},
			{UUID: "f000aa0004514000b000000000000000", Characteristics: []device.CharacteristicInfo{
				{UUID: "f000aa0104514000b000000000000000", Properties: device.PropWrite | device.PropNotify},
			}},
		},
		Capabilities: &capability.Set{ServiceUUID: "f000aa00", RequestCharUUID: "f000aa01", ResponseCharUUID: "f000aa01"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeInspectReport(&buf, report))

	testutils.NewTextAsserter(t).Assert(buf.String(), `
Device AA:BB
Command channel: service=f000aa00 request=f000aa01 response=f000aa01

180f
  2a19      read,notify
f000aa00
  f000aa01  write,notify
`)
}

func TestWriteInspectReportUnresolved(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	require.NoError(t, writeInspectReport(&buf, inspectReport{DeviceID: "AA:BB"}))

	testutils.NewTextAsserter(t).Assert(buf.String(), `
Device AA:BB
Command channel: unresolved
`)
}
