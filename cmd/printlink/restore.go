package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reconnect to the last printer",
	Long: `Reconnects to the printer remembered from the last successful connection,
provided it is advertising nearby. Adopts a link the OS already holds.`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	sess, restored, err := a.manager.RestoreLastConnection(ctx)
	if !restored {
		if err != nil {
			return err
		}
		warnColor.Fprintln(cmd.OutOrStdout(), "Nothing to restore")
		return nil
	}

	okColor.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", sess.DeviceID())
	if set, ok := sess.Capabilities(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Command channel: %s\n", set)
	} else {
		warnColor.Fprintln(cmd.OutOrStdout(), "Command channel: unresolved")
	}
	return nil
}
