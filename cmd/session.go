package cmd

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/ui"
	"github.com/spf13/cobra"
)

var (
	sessionSocket string
	sessionSave   bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage user session sockets",
	Long: `Manage the per-user session sockets of the running daemon. Only the active
session accepts new clients; replacing or removing a session disconnects its
clients.`,
}

var sessionAddCmd = &cobra.Command{
	Use:   "add <user>",
	Short: "Add or replace a user session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.AddSession(user, sessionSocket); err != nil {
			return fmt.Errorf("failed to add session: %w", err)
		}
		if sessionSave {
			if err := config.AddSession(config.SessionConfig{User: user, Socket: sessionSocket}); err != nil {
				return fmt.Errorf("session added but not saved: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Session %s added", user)))
		return nil
	},
}

var sessionRemoveCmd = &cobra.Command{
	Use:     "remove <user>",
	Aliases: []string{"rm"},
	Short:   "Remove a user session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.RemoveSession(user); err != nil {
			return fmt.Errorf("failed to remove session: %w", err)
		}
		if sessionSave {
			if err := config.RemoveSession(user); err != nil {
				return fmt.Errorf("session removed but not saved: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Session %s removed", user)))
		return nil
	},
}

var sessionActivateCmd = &cobra.Command{
	Use:   "activate <user>",
	Short: "Make a session the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}
		if err := client.Activate(args[0]); err != nil {
			return fmt.Errorf("failed to activate session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess(fmt.Sprintf("Session %s is active", args[0])))
		return nil
	},
}

func init() {
	sessionAddCmd.Flags().StringVar(&sessionSocket, "path", "", "Socket path (default <runtime_dir>/<user>.sock)")
	sessionAddCmd.Flags().BoolVar(&sessionSave, "save", false, "Also record the session in the config file")
	sessionRemoveCmd.Flags().BoolVar(&sessionSave, "save", false, "Also drop the session from the config file")

	sessionCmd.AddCommand(sessionAddCmd, sessionRemoveCmd, sessionActivateCmd)
	rootCmd.AddCommand(sessionCmd)
}
