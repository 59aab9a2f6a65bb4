package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/printlink/internal/device"
	"github.com/srg/printlink/internal/discovery"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for printers",
	Long: `Scan for nearby BLE peripherals and list the named ones.

Anonymous devices are remembered for later presence checks but not listed.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only list devices advertising these service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only list devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := discovery.DefaultScanOptions()
	opts.Duration = a.cfg.Scan.Duration
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	opts.ServiceUUIDs = serviceUUIDs
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := newProgress(cmd.ErrOrStderr(), "Scanning for printers")
	progress.Start()

	var mu sync.Mutex
	var found []discovery.Identity
	err = a.discovery.ScanWithOptions(ctx, opts, func(id discovery.Identity) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, id)
		progress.Set(fmt.Sprintf("%d found", len(found)))
	})
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), found)
	}
	return writeDeviceTable(cmd.OutOrStdout(), found)
}

func writeDeviceTable(out io.Writer, devices []discovery.Identity) error {
	if len(devices) == 0 {
		_, err := warnColor.Fprintln(out, "No printers found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headerColor.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, d := range devices {
		rssi := "-"
		if d.SignalStrength != nil {
			rssi = fmt.Sprintf("%d", *d.SignalStrength)
		}
		services := make([]string, 0, len(d.Services))
		for _, s := range d.Services {
			services = append(services, device.ShortenUUID(s))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.DisplayName, d.ID, rssi, strings.Join(services, ","))
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
