package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "hci0", cfg.BlueZAdapter)
	assert.NotEmpty(t, cfg.StorePath)
	assert.Equal(t, 10*time.Second, cfg.Scan.Duration)
	assert.Equal(t, 3*time.Second, cfg.Scan.ObserveWindow)
	assert.Equal(t, 10*time.Second, cfg.Connect.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Connect.SettleDelay)
	assert.Equal(t, 10*time.Millisecond, cfg.Protocol.ChunkDelay)
	assert.Equal(t, 185, cfg.Protocol.MTU)
	assert.Equal(t, 64, cfg.Telemetry.Buffer)
	assert.Empty(t, cfg.Telemetry.Endpoint)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store_path: /tmp/state.yaml
connect:
  timeout: 4s
protocol:
  chunk_size: 128
telemetry:
  endpoint: http://collector.local/records
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, "/tmp/state.yaml", cfg.StorePath)
	assert.Equal(t, 4*time.Second, cfg.Connect.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Connect.ResolveTimeout, "unset keys MUST keep their defaults")
	assert.Equal(t, 128, cfg.ProtocolOptions().ChunkSize)
	assert.Equal(t, "http://collector.local/records", cfg.Telemetry.Endpoint)

	timeouts := cfg.SessionTimeouts()
	assert.Equal(t, 4*time.Second, timeouts.Connect)
	assert.Equal(t, 3*time.Second, timeouts.Observe)
}

func TestLoadZeroSettleDelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect:\n  settle_delay: 0s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Connect.SettleDelay, "an explicit zero MUST survive loading")
	assert.Equal(t, session.NoSettle, cfg.SessionTimeouts().Settle, "zero settle_delay MUST disable the delay")
	assert.Equal(t, 500*time.Millisecond, DefaultConfig().SessionTimeouts().Settle)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: loud\nprotocol:\n  mtu: 10\n"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
	assert.Contains(t, err.Error(), "ATT minimum")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "falls back to info on garbage", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
