package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/waypolicy/internal/ui"
	"github.com/spf13/cobra"
)

var errorCode uint32

var virtualCmd = &cobra.Command{
	Use:   "virtual",
	Short: "Manage virtual outputs",
	Long:  `Manage virtual outputs: named groups of physical outputs presented to clients as one.`,
}

var virtualCreateCmd = &cobra.Command{
	Use:   "create <name> <output>...",
	Short: "Create a virtual output spanning the given outputs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		name, members := args[0], args[1:]
		if err := client.CreateVirtual(name, members); err != nil {
			return fmt.Errorf("failed to create virtual output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Virtual output %s spans %s", name, strings.Join(members, ", "))))
		return nil
	},
}

var virtualDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a virtual output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.DestroyVirtual(args[0]); err != nil {
			return fmt.Errorf("failed to destroy virtual output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Virtual output %s destroyed", args[0])))
		return nil
	},
}

var virtualErrorCmd = &cobra.Command{
	Use:   "error <name> <message>",
	Short: "Report a protocol error to the clients bound to a virtual output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.VirtualError(args[0], errorCode, args[1]); err != nil {
			return fmt.Errorf("failed to send error: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Error sent on %s", args[0])))
		return nil
	},
}

func init() {
	virtualErrorCmd.Flags().Uint32Var(&errorCode, "code", 0, "Error code")

	virtualCmd.AddCommand(virtualCreateCmd, virtualDestroyCmd, virtualErrorCmd)
	rootCmd.AddCommand(virtualCmd)
}
