// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/waypolicy/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the daemon configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Globals GlobalsConfig `mapstructure:"globals"`
	Outputs OutputsConfig `mapstructure:"outputs"`

	// Sessions started at boot, and the one enabled first
	Sessions       []SessionConfig `mapstructure:"sessions"`
	SessionsActive string          `mapstructure:"sessions_active"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains daemon-wide settings
type ServerConfig struct {
	RuntimeDir    string `mapstructure:"runtime_dir"`
	ControlSocket string `mapstructure:"control_socket"` // Empty means <runtime_dir>/control.sock
	QueueSize     int    `mapstructure:"queue_size"`     // Dispatch loop backlog
}

// GlobalsConfig holds the highest version advertised for each global
type GlobalsConfig struct {
	OutputManagerVersion   uint32 `mapstructure:"output_manager_version"`
	VirtualOutputVersion   uint32 `mapstructure:"virtual_output_version"`
	ShortcutManagerVersion uint32 `mapstructure:"shortcut_manager_version"`
}

// OutputsConfig lists the outputs registered at start
type OutputsConfig struct {
	Names   []string `mapstructure:"names"`
	Primary string   `mapstructure:"primary"`

	// Discover adds the host compositor's outputs reported by wlr-randr
	Discover bool `mapstructure:"discover"`
}

// SessionConfig is one user session socket
type SessionConfig struct {
	User   string `mapstructure:"user"`
	Socket string `mapstructure:"socket"` // Empty means <runtime_dir>/<user>.sock
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Server: ServerConfig{
			RuntimeDir:    defaultRuntimeDir(),
			ControlSocket: "",
			QueueSize:     256,
		},
		Globals: GlobalsConfig{
			OutputManagerVersion:   1,
			VirtualOutputVersion:   1,
			ShortcutManagerVersion: 1,
		},
		Outputs: OutputsConfig{
			Names:    []string{},
			Primary:  "",
			Discover: false,
		},
		Sessions:       []SessionConfig{},
		SessionsActive: "",
		Logging: LoggingConfig{
			Level: "", // Empty means use LOG_LEVEL env var
		},
	}

	mu  sync.RWMutex
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("waypolicy")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "waypolicy"))
		}
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "waypolicy"))
		}
		viper.AddConfigPath("/etc/waypolicy")
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("server.runtime_dir", DefaultConfig.Server.RuntimeDir)
	viper.SetDefault("server.control_socket", DefaultConfig.Server.ControlSocket)
	viper.SetDefault("server.queue_size", DefaultConfig.Server.QueueSize)

	viper.SetDefault("globals.output_manager_version", DefaultConfig.Globals.OutputManagerVersion)
	viper.SetDefault("globals.virtual_output_version", DefaultConfig.Globals.VirtualOutputVersion)
	viper.SetDefault("globals.shortcut_manager_version", DefaultConfig.Globals.ShortcutManagerVersion)

	viper.SetDefault("outputs.names", DefaultConfig.Outputs.Names)
	viper.SetDefault("outputs.primary", DefaultConfig.Outputs.Primary)
	viper.SetDefault("outputs.discover", DefaultConfig.Outputs.Discover)

	viper.SetDefault("sessions", DefaultConfig.Sessions)
	viper.SetDefault("sessions_active", DefaultConfig.SessionsActive)

	viper.SetDefault("logging.level", DefaultConfig.Logging.Level)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	next, err := load()
	if err != nil {
		return err
	}
	Set(next)
	return nil
}

func load() (*Config, error) {
	next := &Config{}
	if err := viper.Unmarshal(next); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return next, nil
}

// Get returns the current configuration
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Watch re-reads the config file whenever it changes on disk and hands the
// new configuration to fn. A file that no longer parses or validates is
// ignored and the previous configuration stays in effect.
func Watch(fn func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := load()
		if err != nil {
			logger.Warnf("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		Set(next)
		logger.Infof("Config reloaded from %s", e.Name)
		fn(next)
	})
	viper.WatchConfig()
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	if c.Globals.OutputManagerVersion == 0 || c.Globals.VirtualOutputVersion == 0 || c.Globals.ShortcutManagerVersion == 0 {
		return fmt.Errorf("global versions must be at least 1")
	}
	if c.Server.QueueSize < 1 {
		return fmt.Errorf("server.queue_size must be positive, got %d", c.Server.QueueSize)
	}

	seen := make(map[string]bool, len(c.Sessions))
	for _, s := range c.Sessions {
		if s.User == "" {
			return fmt.Errorf("session without user")
		}
		if strings.ContainsAny(s.User, "/\\\x00") || strings.Contains(s.User, "..") || s.User == "." {
			return fmt.Errorf("session user %q cannot name a socket", s.User)
		}
		if seen[s.User] {
			return fmt.Errorf("session %s configured twice", s.User)
		}
		seen[s.User] = true
	}
	paths := map[string]string{filepath.Clean(c.ControlSocketPath()): "the control socket"}
	for _, s := range c.Sessions {
		path := filepath.Clean(c.SessionSocketPath(s.User))
		if owner, ok := paths[path]; ok {
			return fmt.Errorf("session %s socket %s is already used by %s", s.User, path, owner)
		}
		paths[path] = "session " + s.User
	}
	if c.SessionsActive != "" && !seen[c.SessionsActive] {
		return fmt.Errorf("sessions_active %s is not a configured session", c.SessionsActive)
	}

	// A discovered output may be primary; that is checked once discovery ran.
	if c.Outputs.Primary != "" && !c.Outputs.Discover {
		found := false
		for _, name := range c.Outputs.Names {
			found = found || name == c.Outputs.Primary
		}
		if !found {
			return fmt.Errorf("outputs.primary %s is not in outputs.names", c.Outputs.Primary)
		}
	}
	return nil
}

// ControlSocketPath returns where the control socket lives.
func (c *Config) ControlSocketPath() string {
	if c.Server.ControlSocket != "" {
		return expandPath(c.Server.ControlSocket)
	}
	return filepath.Join(expandPath(c.Server.RuntimeDir), "control.sock")
}

// SessionSocketPath returns the socket path for user, from its session entry
// when one is configured.
func (c *Config) SessionSocketPath(user string) string {
	for _, s := range c.Sessions {
		if s.User == user && s.Socket != "" {
			return expandPath(s.Socket)
		}
	}
	return filepath.Join(expandPath(c.Server.RuntimeDir), user+".sock")
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// If override is set, use that
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "waypolicy", "waypolicy.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/waypolicy/waypolicy.toml"
	}
	return filepath.Join(home, ".config", "waypolicy", "waypolicy.toml")
}

// AddSession records a session to start at boot, replacing an entry for the
// same user.
func AddSession(session SessionConfig) error {
	c := Get()
	sessions := make([]SessionConfig, 0, len(c.Sessions)+1)
	for _, s := range c.Sessions {
		if s.User != session.User {
			sessions = append(sessions, s)
		}
	}
	sessions = append(sessions, session)
	return saveSessions(c, sessions)
}

// RemoveSession drops a session from the boot list.
func RemoveSession(user string) error {
	c := Get()
	for i, s := range c.Sessions {
		if s.User == user {
			sessions := append(append([]SessionConfig(nil), c.Sessions[:i]...), c.Sessions[i+1:]...)
			return saveSessions(c, sessions)
		}
	}
	return fmt.Errorf("session %s not found", user)
}

func saveSessions(c *Config, sessions []SessionConfig) error {
	next := *c
	next.Sessions = sessions
	if next.SessionsActive != "" {
		found := false
		for _, s := range sessions {
			found = found || s.User == next.SessionsActive
		}
		if !found {
			next.SessionsActive = ""
			viper.Set("sessions_active", "")
		}
	}

	entries := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, map[string]any{"user": s.User, "socket": s.Socket})
	}
	viper.Set("sessions", entries)
	Set(&next)
	return Save()
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "waypolicy")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("waypolicy-%d", os.Getuid()))
}
