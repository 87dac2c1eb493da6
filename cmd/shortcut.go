package cmd

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/shortcut"
	"github.com/bnema/waypolicy/internal/ui"
	"github.com/spf13/cobra"
)

var shortcutCmd = &cobra.Command{
	Use:   "shortcut",
	Short: "Inspect and fire global shortcuts",
}

var shortcutTriggerCmd = &cobra.Command{
	Use:   "trigger <combination>",
	Short: "Deliver a key combination to the context holding it",
	Long: `Deliver a key combination such as ctrl+alt+t to the client whose shortcut
context holds it. Combinations are matched regardless of modifier order and
case; a context registered for "any" receives keys nobody else holds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		combo, err := shortcut.Parse(args[0])
		if err != nil {
			return err
		}
		client, err := requireRunning()
		if err != nil {
			return err
		}
		id, delivered, err := client.TriggerShortcut(combo.String())
		if err != nil {
			return fmt.Errorf("failed to trigger shortcut: %w", err)
		}
		if !delivered {
			fmt.Fprintln(cmd.OutOrStdout(), ui.WarningStyle.Render(fmt.Sprintf("No context holds %s", combo)))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("%s delivered to context %d", combo, id)))
		return nil
	},
}

func init() {
	shortcutCmd.AddCommand(shortcutTriggerCmd)
	rootCmd.AddCommand(shortcutCmd)
}
