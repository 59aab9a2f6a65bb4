package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/testutils"
	"github.com/srg/printlink/pkg/config"
	"github.com/stretchr/testify/suite"
)

const testPrinterAddress = "00:00:00:00:00:01"

// CommandTestSuite runs cobra commands against a fake platform with a
// temporary config and state file.
type CommandTestSuite struct {
	suite.Suite

	platform     *testutils.FakePlatform
	client       *testutils.FakeClient
	configPath   string
	storePath    string
	origPlatform func(*config.Config, *logrus.Logger) device.Platform
}

func (s *CommandTestSuite) SetupTest() {
	dir := s.T().TempDir()
	s.storePath = filepath.Join(dir, "state.yaml")
	s.configPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`log_level: error
store_path: %s
scan:
  duration: 100ms
  observe_window: 200ms
connect:
  timeout: 1s
  settle_delay: 1ms
  resolve_timeout: 500ms
  resolve_poll: 5ms
protocol:
  timeout: 1s
  chunk_delay: 1ms
`, s.storePath)
	s.Require().NoError(os.WriteFile(s.configPath, []byte(cfg), 0o600), "config write MUST succeed")

	s.platform = testutils.NewFakePlatform()
	s.client = s.installPrinter(`{"state":"idle"}`)

	s.origPlatform = newPlatform
	newPlatform = func(*config.Config, *logrus.Logger) device.Platform { return s.platform }

	resetSendFlags()
	scanDuration, scanFormat, scanServices, scanAllowList, scanBlockList = 0, "table", nil, nil, nil
	inspectJSON = false
}

func (s *CommandTestSuite) TearDownTest() {
	newPlatform = s.origPlatform
	resetSendFlags()
}

// installPrinter registers a fresh printer link answering every command with reply.
func (s *CommandTestSuite) installPrinter(reply string) *testutils.FakeClient {
	b := testutils.NewPrinterPeripheral(testPrinterAddress, "Printer")
	client := b.Build()
	client.OnWrite(testutils.JSONResponder(testutils.PrinterService, testutils.PrinterResponseChar, testutils.Reply(reply)))
	s.platform.StopAdvertising()
	s.platform.Advertise(b.Advertisement()).AddClient(client)
	return client
}

// Execute runs the root command with args plus the suite config.
func (s *CommandTestSuite) Execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetSendFlags() {
	sendType, sendData, sendFile = "", "", ""
	sendChunkSize, sendFragment, sendTimeout = 0, false, 0
	sendService, sendRequest, sendResponse = "", "", ""
}
