package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the policy daemon",
	Long: `Run the policy daemon in the foreground. Sessions and outputs listed in the
config file are registered at start. Config changes on disk adjust the log
level while the daemon runs; everything else needs a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if controlSocket != "" {
		cfg.Server.ControlSocket = controlSocket
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Stop()

	if viper.ConfigFileUsed() != "" {
		config.Watch(func(next *config.Config) {
			applyLogLevel(next)
		})
	}

	logger.Infof("Waypolicy %s listening on %s", Version, srv.ControlSocketPath())
	for _, s := range cfg.Sessions {
		logger.Infof("Session %s on %s", s.User, cfg.SessionSocketPath(s.User))
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}
