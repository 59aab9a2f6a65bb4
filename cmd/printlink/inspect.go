package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/device"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Connect to a printer and show its GATT tree and command channel",
	Long: `Connects to a printer by address, discovers its services and
characteristics and reports which vendor characteristics carry commands.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectJSON bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

type inspectReport struct {
	DeviceID     string               `json:"deviceId"`
	Services     []device.ServiceInfo `json:"services"`
	Capabilities *capability.Set      `json:"capabilities,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := newProgress(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address))
	progress.Set("connecting")
	progress.Start()

	sess, err := a.manager.Connect(ctx, address, nil)
	if sess == nil {
		progress.Stop()
		return err
	}
	if err != nil {
		a.logger.WithError(err).Warn("Command channel not resolved")
	}

	progress.Set("discovering")
	services, derr := sess.Client().DiscoverProfile(ctx)
	progress.Stop()
	if derr != nil {
		return fmt.Errorf("failed to discover services: %w", derr)
	}

	report := inspectReport{DeviceID: sess.DeviceID(), Services: services}
	if set, ok := sess.Capabilities(); ok {
		report.Capabilities = &set
	}

	if inspectJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return writeInspectReport(cmd.OutOrStdout(), report)
}

func writeInspectReport(out io.Writer, r inspectReport) error {
	headerColor.Fprintf(out, "Device %s\n", r.DeviceID)
	if r.Capabilities != nil {
		okColor.Fprintf(out, "Command channel: %s\n", r.Capabilities)
	} else {
		warnColor.Fprintln(out, "Command channel: unresolved")
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, svc := range r.Services {
		fmt.Fprintf(w, "%s\t\t\n", device.ShortenUUID(svc.UUID))
		for _, ch := range svc.Characteristics {
			fmt.Fprintf(w, "  %s\t%s\t\n", device.ShortenUUID(ch.UUID), dimColor.Sprint(ch.Properties))
		}
	}
	return w.Flush()
}
