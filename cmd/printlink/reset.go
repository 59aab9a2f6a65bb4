package main

import (
	"github.com/spf13/cobra"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset <device-address>",
	Short: "Drop the connection and the OS bond for a printer",
	Long: `Disconnects the printer, removes its pairing record where the platform
supports it and forgets it as the last printer.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := a.manager.ResetBondAndConnection(ctx, args[0]); err != nil {
		return err
	}
	okColor.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
	return nil
}
