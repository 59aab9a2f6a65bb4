package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/printlink/internal/adapter"
	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/device"
	goble "github.com/srg/printlink/internal/device/go-ble"
	"github.com/srg/printlink/internal/discovery"
	"github.com/srg/printlink/internal/session"
	"github.com/srg/printlink/internal/store"
	"github.com/srg/printlink/internal/telemetry"
	"github.com/srg/printlink/pkg/config"
)

// newPlatform is the radio backend; tests replace it with a fake.
var newPlatform = func(cfg *config.Config, logger *logrus.Logger) device.Platform {
	return goble.NewPlatform(logger, goble.WithBlueZAdapter(cfg.BlueZAdapter))
}

// app is the wired provisioning stack for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	adapter   *adapter.Manager
	discovery *discovery.Discovery
	manager   *session.Manager
	telemetry *telemetry.Dispatcher
}

// newApp loads config, configures logging and colors and wires the stack.
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	configLevel := ""
	if configPath != "" {
		configLevel = cfg.LogLevel
	}
	logger, err := configureLogger(cmd, configLevel)
	if err != nil {
		return nil, err
	}
	configureColor(cmd)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	var sink telemetry.Sink = telemetry.NewLogSink(logger)
	if cfg.Telemetry.Endpoint != "" {
		sink = telemetry.NewHTTPSink(cfg.Telemetry.Endpoint, &http.Client{Timeout: cfg.Telemetry.Timeout})
	}
	dispatcher := telemetry.NewDispatcher(sink, cfg.Telemetry.Buffer, cfg.Telemetry.Timeout, logger)

	adapterMgr := adapter.NewManager(newPlatform(cfg, logger), logger)
	disc := discovery.New(adapterMgr, logger, discovery.WithMaxAge(cfg.Scan.CacheMaxAge))

	manager, err := session.NewManager(session.Deps{
		Adapter:   adapterMgr,
		Discovery: disc,
		Resolver:  capability.NewResolver(cfg.Connect.ResolvePoll, logger),
		Store:     store.NewFile(cfg.StorePath),
		Protocol:  cfg.ProtocolOptions(),
		Telemetry: dispatcher,
		Timeouts:  cfg.SessionTimeouts(),
	}, logger)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		adapter:   adapterMgr,
		discovery: disc,
		manager:   manager,
		telemetry: dispatcher,
	}, nil
}

// Close tears the sessions down and flushes telemetry.
func (a *app) Close() {
	a.manager.Close()
	a.telemetry.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
