package cmd

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running daemon",
	Long:  `Show sessions, outputs, virtual outputs, shortcut contexts and advertised globals of the running daemon.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			fmt.Fprintln(cmd.OutOrStdout(), "Waypolicy daemon is not running")
			return nil
		}

		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("failed to get daemon status: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
