package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vendorSvc = "f000aa0004514000b000000000000000"
	vendorReq = "f000aa0104514000b000000000000000"
	vendorRsp = "f000aa0204514000b000000000000000"
)

func svc(uuid string, chars ...device.CharacteristicInfo) device.ServiceInfo {
	return device.ServiceInfo{UUID: uuid, Characteristics: chars}
}

func char(uuid, props string) device.CharacteristicInfo {
	return device.CharacteristicInfo{UUID: uuid, Properties: device.ParseProperties(props)}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		services []device.ServiceInfo
		want     Set
		ok       bool
	}{
		{
			name: "request writes and notifies, separate notify response",
			services: []device.ServiceInfo{
				svc("1800", char("2a00", "read")),
				svc("F000AA00-0451-4000-B000-000000000000",
					char("F000AA01-0451-4000-B000-000000000000", "write,write-without-response,notify"),
					char("F000AA02-0451-4000-B000-000000000000", "notify")),
			},
			want: Set{ServiceUUID: vendorSvc, RequestCharUUID: vendorReq, ResponseCharUUID: vendorRsp},
			ok:   true,
		},
		{
			name: "falls back to another writable response",
			services: []device.ServiceInfo{
				svc(vendorSvc, char(vendorReq, "write"), char(vendorRsp, "write-without-response")),
			},
			want: Set{ServiceUUID: vendorSvc, RequestCharUUID: vendorReq, ResponseCharUUID: vendorRsp},
			ok:   true,
		},
		{
			name: "request answers on itself",
			services: []device.ServiceInfo{
				svc(vendorSvc, char(vendorReq, "write,notify")),
			},
			want: Set{ServiceUUID: vendorSvc, RequestCharUUID: vendorReq, ResponseCharUUID: vendorReq},
			ok:   true,
		},
		{
			name: "standard services are never candidates",
			services: []device.ServiceInfo{
				svc("180F", char("2a19", "read,write,notify")),
				svc("00001800-0000-1000-8000-00805f9b34fb", char("2a00", "write,notify")),
			},
			ok: false,
		},
		{
			name: "standard characteristics inside a vendor service are skipped",
			services: []device.ServiceInfo{
				svc(vendorSvc, char("2a19", "write,notify"), char(vendorRsp, "notify")),
			},
			ok: false,
		},
		{
			name: "read-only vendor service is skipped",
			services: []device.ServiceInfo{
				svc("a0000000000000000000000000000000", char("a0000001000000000000000000000000", "read,notify")),
				svc(vendorSvc, char(vendorReq, "write"), char(vendorRsp, "notify")),
			},
			want: Set{ServiceUUID: vendorSvc, RequestCharUUID: vendorReq, ResponseCharUUID: vendorRsp},
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.services)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.want.ServiceUUID, got.ServiceUUID)
			assert.Equal(t, tt.want.RequestCharUUID, got.RequestCharUUID)
			assert.Equal(t, tt.want.ResponseCharUUID, got.ResponseCharUUID)
			assert.True(t, got.Ready())
			assert.False(t, device.IsStandardUUID(got.ServiceUUID), "resolved ids MUST NOT be standard")
			assert.False(t, device.IsStandardUUID(got.RequestCharUUID), "resolved ids MUST NOT be standard")
		})
	}
}

func TestResolveWaitsForProfile(t *testing.T) {
	// GOAL: resolution retries while the attribute tree is still empty
	//
	// TEST SCENARIO: first two discoveries empty → third returns the printer profile → resolved

	client := testutils.NewPrinterPeripheral("AA:BB", "Printer").Build().EmptyDiscoveries(2)
	r := NewResolver(5*time.Millisecond, testutils.NewTestLogger(t))

	set, err := r.Resolve(context.Background(), "AA:BB", client, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testutils.PrinterService, set.ServiceUUID)
	assert.Equal(t, testutils.PrinterRequestChar, set.RequestCharUUID)
	assert.Equal(t, testutils.PrinterResponseChar, set.ResponseCharUUID)
	assert.Equal(t, 3, client.Count("discover"))
}

func TestResolveTimeout(t *testing.T) {
	client := testutils.NewPrinterPeripheral("AA:BB", "Printer").Build().FailDiscovery(errors.New("gatt busy"))
	r := NewResolver(5*time.Millisecond, testutils.NewTestLogger(t))

	_, err := r.Resolve(context.Background(), "AA:BB", client, 30*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrCapabilityUnresolved)
	assert.ErrorContains(t, err, "gatt busy")
}

func TestPin(t *testing.T) {
	r := NewResolver(0, testutils.NewTestLogger(t))
	client := testutils.NewFakeClient("AA:BB", nil)

	err := r.Pin("AA:BB", Set{ServiceUUID: "180F", RequestCharUUID: vendorReq})
	assert.ErrorIs(t, err, device.ErrStandardServiceWriteBlocked, "pins on standard ids MUST be refused")

	require.NoError(t, r.Pin("aa:bb", Set{ServiceUUID: "F000AA00-0451-4000-B000-000000000000", RequestCharUUID: vendorReq}))
	set, err := r.Resolve(context.Background(), "AA:BB", client, time.Second)
	require.NoError(t, err)
	assert.True(t, set.Pinned)
	assert.Equal(t, vendorSvc, set.ServiceUUID)
	assert.Equal(t, vendorReq, set.ResponseCharUUID, "response MUST default to the request characteristic")
	assert.Zero(t, client.Count("discover"), "pinned devices MUST NOT read the attribute tree")

	r.Unpin("AA:BB")
	_, ok := r.Pinned("AA:BB")
	assert.False(t, ok)
}
