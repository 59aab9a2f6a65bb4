package main

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type CommandsTestSuite struct {
	CommandTestSuite
}

// TestSendRawJSON verifies the positional JSON payload reaches the request
// characteristic and the reply is printed with its envelope.
func (s *CommandsTestSuite) TestSendRawJSON() {
	out, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`)
	s.Require().NoError(err, "send MUST succeed")

	var resp map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &resp), "output MUST be JSON: %s", out)
	s.Equal("idle", resp["state"], "reply body MUST be printed")
	s.Equal(testPrinterAddress, resp["deviceId"], "envelope MUST carry the device id")

	writes := s.client.Writes(testutils.PrinterRequestChar)
	s.Require().Len(writes, 1, "a short payload MUST be one write")
	s.JSONEq(`{"type":"status"}`, string(writes[0]))
}

// TestSendTypedCommand verifies --type/--data are wrapped as a command document.
func (s *CommandsTestSuite) TestSendTypedCommand() {
	_, err := s.Execute("send", testPrinterAddress, "--type", "wifi", "--data", `{"ssid":"lab"}`)
	s.Require().NoError(err, "send MUST succeed")

	writes := s.client.Writes(testutils.PrinterRequestChar)
	s.Require().Len(writes, 1)
	var cmd map[string]any
	s.Require().NoError(json.Unmarshal(writes[0], &cmd))
	s.Equal("wifi", cmd["type"])
	s.Equal(map[string]any{"ssid": "lab"}, cmd["data"])
	s.Contains(cmd, "timestamp", "command MUST carry a timestamp")
}

// TestSendFragmented verifies --chunk-size splits the payload into unacknowledged writes.
func (s *CommandsTestSuite) TestSendFragmented() {
	_, err := s.Execute("send", testPrinterAddress, `{"type":"status","pad":"0123456789"}`, "--chunk-size", "10")
	s.Require().NoError(err, "send MUST succeed")

	s.Equal(0, s.client.Count("write"), "fragmented send MUST NOT use acknowledged writes")
	s.Equal(4, s.client.Count("write-nr"), "36 bytes in 10-byte chunks MUST be 4 writes")
}

// TestSendTimeoutFlag verifies --timeout bounds the reply wait in both
// directions, independent of protocol.timeout (1s in the suite config).
func (s *CommandsTestSuite) TestSendTimeoutFlag() {
	s.client.OnWrite(testutils.DelayedResponder(testutils.PrinterService, testutils.PrinterResponseChar,
		1500*time.Millisecond, testutils.Reply(`{"state":"late"}`)))

	out, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`, "--timeout", "3s")
	s.Require().NoError(err, "a reply within --timeout MUST be accepted past protocol.timeout")
	s.Contains(out, `"late"`)

	s.client = s.installPrinter(`{"state":"idle"}`)
	s.client.OnWrite(testutils.DelayedResponder(testutils.PrinterService, testutils.PrinterResponseChar,
		300*time.Millisecond, testutils.Reply(`{"state":"late"}`)))

	started := time.Now()
	_, err = s.Execute("send", testPrinterAddress, `{"type":"status"}`, "--timeout", "50ms")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrOperationTimeout)
	s.Contains(err.Error(), "50ms", "the error MUST name the effective timeout")
	s.Less(time.Since(started), time.Second, "a shorter --timeout MUST fail early")
}

// TestSendRestoresLastPrinter verifies that without an address the last
// printer from the state file is used.
func (s *CommandsTestSuite) TestSendRestoresLastPrinter() {
	_, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`)
	s.Require().NoError(err, "first send MUST succeed")

	state, err := os.ReadFile(s.storePath)
	s.Require().NoError(err, "state file MUST exist after a connection")
	s.Contains(string(state), testPrinterAddress)

	second := s.installPrinter(`{"state":"printing"}`)
	out, err := s.Execute("send", `{"type":"status"}`)
	s.Require().NoError(err, "send without address MUST restore the last printer")
	s.Contains(out, `"printing"`)
	s.Len(second.Writes(testutils.PrinterRequestChar), 1)
}

// TestSendWithoutHistory verifies a clear error when nothing can be restored.
func (s *CommandsTestSuite) TestSendWithoutHistory() {
	_, err := s.Execute("send", `{"type":"status"}`)
	s.Require().Error(err)
	s.Contains(err.Error(), "no previous printer")
}

// TestSendPinnedChannel verifies --service/--request override inference.
func (s *CommandsTestSuite) TestSendPinnedChannel() {
	s.client.OnWrite(testutils.JSONResponder(testutils.PrinterService, testutils.PrinterRequestChar, testutils.Reply(`{"ok":true}`)))

	out, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`,
		"--service", testutils.PrinterService, "--request", testutils.PrinterRequestChar)
	s.Require().NoError(err, "pinned send MUST succeed")
	s.Contains(out, `"ok": true`)
	var subscribed []string
	for _, call := range s.client.Calls() {
		if call.Op == "subscribe" {
			subscribed = append(subscribed, call.Char)
		}
	}
	s.Equal([]string{testutils.PrinterRequestChar}, subscribed,
		"the reply MUST be awaited on the pinned request characteristic")
}

// TestSendRejectsStandardService verifies the standard-ID guard surfaces to the CLI.
func (s *CommandsTestSuite) TestSendRejectsStandardService() {
	_, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`, "--service", "180F", "--request", "2A19")
	s.Require().Error(err)
	s.Contains(FormatUserError(err), "standard Bluetooth")
	s.Empty(s.client.Writes("2A19"), "nothing MUST be written to a standard characteristic")
}

// TestScanJSON verifies named printers are listed.
func (s *CommandsTestSuite) TestScanJSON() {
	out, err := s.Execute("scan", "--format", "json")
	s.Require().NoError(err, "scan MUST succeed")

	var found []map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &found), "output MUST be JSON: %s", out)
	s.Require().Len(found, 1)
	s.Equal("Printer", found[0]["displayName"])
}

// TestScanInvalidFormat verifies flag validation.
func (s *CommandsTestSuite) TestScanInvalidFormat() {
	_, err := s.Execute("scan", "--format", "xml")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format")
}

// TestInspect verifies the report shows the resolved channel.
func (s *CommandsTestSuite) TestInspect() {
	out, err := s.Execute("inspect", testPrinterAddress, "--json")
	s.Require().NoError(err, "inspect MUST succeed")

	var report map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &report), "output MUST be JSON: %s", out)
	caps, ok := report["capabilities"].(map[string]any)
	s.Require().True(ok, "capabilities MUST be resolved")
	s.Equal(testutils.PrinterService, caps["serviceUUID"])
	s.Equal(testutils.PrinterRequestChar, caps["requestCharacteristicUUID"])
	s.Equal(testutils.PrinterResponseChar, caps["responseCharacteristicUUID"])
}

// TestRestoreNothing verifies restore without history is not an error.
func (s *CommandsTestSuite) TestRestoreNothing() {
	out, err := s.Execute("restore")
	s.Require().NoError(err)
	s.Contains(out, "Nothing to restore")
}

// TestReset verifies the bond is removed and the printer forgotten.
func (s *CommandsTestSuite) TestReset() {
	_, err := s.Execute("send", testPrinterAddress, `{"type":"status"}`)
	s.Require().NoError(err)

	out, err := s.Execute("reset", testPrinterAddress)
	s.Require().NoError(err, "reset MUST succeed")
	s.Contains(out, "Reset "+testPrinterAddress)
	s.Equal([]string{testPrinterAddress}, s.platform.RemovedBonds())

	s.NoFileExists(s.storePath, "reset MUST forget the last printer")

	s.installPrinter(`{"state":"idle"}`)
	out, err = s.Execute("restore")
	s.Require().NoError(err)
	s.Contains(out, "Nothing to restore", "a reset printer MUST NOT be restored")
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}
