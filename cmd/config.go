package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Waypolicy configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Config file: %s\n\n", config.GetConfigPath())

		fmt.Fprintln(out, "[server]")
		fmt.Fprintf(out, "  Runtime dir: %s\n", cfg.Server.RuntimeDir)
		fmt.Fprintf(out, "  Control socket: %s\n", cfg.ControlSocketPath())
		fmt.Fprintf(out, "  Queue size: %d\n", cfg.Server.QueueSize)

		fmt.Fprintln(out, "\n[globals]")
		fmt.Fprintf(out, "  Output manager: v%d\n", cfg.Globals.OutputManagerVersion)
		fmt.Fprintf(out, "  Virtual output: v%d\n", cfg.Globals.VirtualOutputVersion)
		fmt.Fprintf(out, "  Shortcut manager: v%d\n", cfg.Globals.ShortcutManagerVersion)

		fmt.Fprintln(out, "\n[outputs]")
		fmt.Fprintf(out, "  Names: %v\n", cfg.Outputs.Names)
		fmt.Fprintf(out, "  Primary: %s\n", cfg.Outputs.Primary)

		if len(cfg.Sessions) > 0 {
			fmt.Fprintln(out, "\n[sessions]")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "  User\tSocket\tActive"); err != nil {
				logger.Errorf("Failed to write header: %v", err)
			}
			for _, s := range cfg.Sessions {
				active := "No"
				if s.User == cfg.SessionsActive {
					active = "Yes"
				}
				if _, err := fmt.Fprintf(w, "  %s\t%s\t%s\n", s.User, cfg.SessionSocketPath(s.User), active); err != nil {
					logger.Errorf("Failed to write session: %v", err)
				}
			}
			if err := w.Flush(); err != nil {
				logger.Errorf("Failed to flush writer: %v", err)
			}
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration file already exists at: %s\nUse --force to overwrite\n", configPath)
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to: %s\n", configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite existing config file")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
