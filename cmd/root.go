package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/ipc"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath    string
	logLevel      string
	controlSocket string
	timeout       time.Duration

	rootCmd = &cobra.Command{
		Use:   "waypolicy",
		Short: "Waypolicy - Wayland session and output policy daemon",
		Long: `Waypolicy runs the policy side of a Wayland compositor: it multiplexes
per-user session sockets, tracks outputs and the primary output, composes
virtual outputs and arbitrates global shortcuts between clients.

The daemon is driven by a control socket; every other command talks to it.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default searches XDG and /etc)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&controlSocket, "socket", "s", "", "Control socket path (default from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Control request timeout")
}

// initConfig loads the configuration and applies the log level. The flag
// wins over the config file, which wins over LOG_LEVEL.
func initConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return err
	}
	applyLogLevel(config.Get())
	return nil
}

func applyLogLevel(cfg *config.Config) {
	switch {
	case logLevel != "":
		logger.SetLevel(logLevel)
	case cfg.Logging.Level != "":
		logger.SetLevel(cfg.Logging.Level)
	default:
		logger.SetLevel(os.Getenv("LOG_LEVEL"))
	}
}

func socketPath() string {
	if controlSocket != "" {
		return controlSocket
	}
	return config.Get().ControlSocketPath()
}

func newClient() *ipc.Client {
	return ipc.NewClientWithTimeout(socketPath(), timeout)
}

// requireRunning returns a client for a daemon that answers on its socket.
func requireRunning() (*ipc.Client, error) {
	client := newClient()
	if !client.IsRunning() {
		return nil, fmt.Errorf("%w at %s", ipc.ErrNotRunning, socketPath())
	}
	return client, nil
}
