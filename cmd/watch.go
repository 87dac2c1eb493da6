package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow daemon events",
	Long: `Follow session, output and shortcut events of the running daemon. With
--plain events are printed one per line, which suits logs and pipes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireRunning()
		if err != nil {
			return err
		}

		if watchPlain {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return client.Watch(ctx, func(e event.Event) {
				fmt.Fprintln(cmd.OutOrStdout(), ui.FormatEvent(time.Now(), e))
			})
		}

		events := make(chan ui.EventMsg, 64)
		closed := make(chan error, 1)
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		go func() {
			defer close(events)
			closed <- client.Watch(ctx, func(e event.Event) {
				select {
				case events <- ui.EventMsg{Event: e, At: time.Now()}:
				case <-ctx.Done():
				}
			})
		}()

		_, err = tea.NewProgram(ui.NewWatchModel(events, closed), tea.WithContext(ctx)).Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print events as lines instead of the interactive view")
	rootCmd.AddCommand(watchCmd)
}
