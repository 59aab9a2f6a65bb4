package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/printlink/internal/protocol"
	"github.com/srg/printlink/internal/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	StorePath    string `yaml:"store_path"`
	BlueZAdapter string `yaml:"bluez_adapter" default:"hci0"`

	Scan      ScanConfig      `yaml:"scan"`
	Connect   ConnectConfig   `yaml:"connect"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ScanConfig struct {
	Duration      time.Duration `yaml:"duration" default:"10s"`
	ObserveWindow time.Duration `yaml:"observe_window" default:"3s"`
	CacheMaxAge   time.Duration `yaml:"cache_max_age" default:"0s"`
}

type ConnectConfig struct {
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	SettleDelay    time.Duration `yaml:"settle_delay" default:"500ms"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout" default:"5s"`
	ResolvePoll    time.Duration `yaml:"resolve_poll" default:"250ms"`
}

type ProtocolConfig struct {
	Timeout    time.Duration `yaml:"timeout" default:"10s"`
	ChunkSize  int           `yaml:"chunk_size" default:"0"`
	ChunkDelay time.Duration `yaml:"chunk_delay" default:"10ms"`
	MTU        int           `yaml:"mtu" default:"185"`
}

// TelemetryConfig enables the HTTP collector when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Buffer   int           `yaml:"buffer" default:"64"`
	Timeout  time.Duration `yaml:"timeout" default:"3s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.StorePath = DefaultStorePath()
	return cfg
}

// DefaultStorePath is state.yaml under the user config directory, or the
// working directory when that is unknown.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "printlink-state.yaml"
	}
	return filepath.Join(dir, "printlink", "state.yaml")
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults; a missing file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.StorePath == "" {
		errs = append(errs, errors.New("store_path is empty"))
	}
	if c.Protocol.ChunkSize < 0 {
		errs = append(errs, errors.New("protocol.chunk_size must not be negative"))
	}
	if c.Protocol.MTU != 0 && c.Protocol.MTU < 23 {
		errs = append(errs, fmt.Errorf("protocol.mtu %d is below the ATT minimum of 23", c.Protocol.MTU))
	}
	if c.Connect.Timeout <= 0 || c.Protocol.Timeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, info when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// SessionTimeouts maps the scan and connect sections to session timeouts.
// A zero settle_delay turns the settle delay off.
func (c *Config) SessionTimeouts() session.Timeouts {
	settle := c.Connect.SettleDelay
	if settle <= 0 {
		settle = session.NoSettle
	}
	return session.Timeouts{
		Observe: c.Scan.ObserveWindow,
		Connect: c.Connect.Timeout,
		Settle:  settle,
		Resolve: c.Connect.ResolveTimeout,
	}
}

// ProtocolOptions maps the protocol section to engine options.
func (c *Config) ProtocolOptions() protocol.Options {
	return protocol.Options{
		Timeout:    c.Protocol.Timeout,
		ChunkSize:  c.Protocol.ChunkSize,
		ChunkDelay: c.Protocol.ChunkDelay,
		MTU:        c.Protocol.MTU,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
