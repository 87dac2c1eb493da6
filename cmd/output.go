package cmd

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/ui"
	"github.com/spf13/cobra"
)

var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "Manage physical outputs",
}

var outputAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.AddOutput(args[0]); err != nil {
			return fmt.Errorf("failed to add output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Output %s added", args[0])))
		return nil
	},
}

var outputRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Unregister an output",
	Long:    `Unregister an output. A primary output that goes away leaves no primary. The output also leaves its virtual output, whose clients receive the new membership.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.RemoveOutput(args[0]); err != nil {
			return fmt.Errorf("failed to remove output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Output %s removed", args[0])))
		return nil
	},
}

var outputPrimaryCmd = &cobra.Command{
	Use:   "primary <name>",
	Short: "Set the primary output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.SetPrimary(args[0]); err != nil {
			return fmt.Errorf("failed to set primary output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Primary output is %s", args[0])))
		return nil
	},
}

func init() {
	outputCmd.AddCommand(outputAddCmd, outputRemoveCmd, outputPrimaryCmd)
	rootCmd.AddCommand(outputCmd)
}
