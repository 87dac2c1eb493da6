package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `sessions_active = "alice"

[server]
runtime_dir = "/run/waypolicy"
queue_size = 64

[globals]
shortcut_manager_version = 2

[outputs]
names = ["HDMI-0", "eDP-1"]
primary = "eDP-1"

[[sessions]]
user = "alice"

[[sessions]]
user = "bob"
socket = "/run/user/1001/waypolicy.sock"

[logging]
level = "debug"
`

// reset clears viper and package state; tests in this package share both.
func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetConfigPath("")
	Set(nil)
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "waypolicy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// chdir changes the working directory for the rest of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		reset(t)
		tmp := t.TempDir()
		t.Setenv("HOME", tmp)
		t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
		chdir(t, tmp)

		require.NoError(t, Init())
		c := Get()
		assert.Equal(t, 256, c.Server.QueueSize)
		assert.Equal(t, uint32(1), c.Globals.OutputManagerVersion)
		assert.Equal(t, uint32(1), c.Globals.VirtualOutputVersion)
		assert.Equal(t, uint32(1), c.Globals.ShortcutManagerVersion)
		assert.Empty(t, c.Sessions)
		assert.Empty(t, c.Outputs.Primary)
	})

	t.Run("reads explicit file", func(t *testing.T) {
		reset(t)
		SetConfigPath(writeConfig(t, t.TempDir(), sampleConfig))

		require.NoError(t, Init())
		c := Get()
		assert.Equal(t, "/run/waypolicy", c.Server.RuntimeDir)
		assert.Equal(t, 64, c.Server.QueueSize)
		assert.Equal(t, uint32(2), c.Globals.ShortcutManagerVersion)
		assert.Equal(t, uint32(1), c.Globals.OutputManagerVersion, "unset fields keep defaults")
		assert.Equal(t, []string{"HDMI-0", "eDP-1"}, c.Outputs.Names)
		assert.Equal(t, "eDP-1", c.Outputs.Primary)
		assert.Equal(t, []SessionConfig{
			{User: "alice"},
			{User: "bob", Socket: "/run/user/1001/waypolicy.sock"},
		}, c.Sessions)
		assert.Equal(t, "alice", c.SessionsActive)
		assert.Equal(t, "debug", c.Logging.Level)
	})

	t.Run("XDG config home is searched", func(t *testing.T) {
		reset(t)
		tmp := t.TempDir()
		xdg := filepath.Join(tmp, "xdg")
		require.NoError(t, os.MkdirAll(filepath.Join(xdg, "waypolicy"), 0755))
		writeConfig(t, filepath.Join(xdg, "waypolicy"), "[server]\nqueue_size = 8\n")
		t.Setenv("XDG_CONFIG_HOME", xdg)
		t.Setenv("HOME", tmp)
		chdir(t, tmp)

		require.NoError(t, Init())
		assert.Equal(t, 8, Get().Server.QueueSize)
	})

	t.Run("explicit file that does not exist yet", func(t *testing.T) {
		reset(t)
		path := filepath.Join(t.TempDir(), "waypolicy.toml")
		SetConfigPath(path)

		require.NoError(t, Init())
		assert.Equal(t, 256, Get().Server.QueueSize)
		assert.Equal(t, path, GetConfigPath())
	})

	t.Run("invalid TOML", func(t *testing.T) {
		reset(t)
		SetConfigPath(writeConfig(t, t.TempDir(), "[server\nqueue_size = 1"))
		assert.Error(t, Init())
	})

	t.Run("config failing validation", func(t *testing.T) {
		reset(t)
		SetConfigPath(writeConfig(t, t.TempDir(), "[outputs]\nnames = [\"HDMI-0\"]\nprimary = \"DP-1\"\n"))
		assert.ErrorContains(t, Init(), "outputs.primary")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig
		c.Sessions = []SessionConfig{{User: "alice"}, {User: "bob"}}
		c.SessionsActive = "bob"
		c.Outputs = OutputsConfig{Names: []string{"HDMI-0"}, Primary: "HDMI-0"}
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero version", func(c *Config) { c.Globals.VirtualOutputVersion = 0 }, "versions"},
		{"zero queue", func(c *Config) { c.Server.QueueSize = 0 }, "queue_size"},
		{"empty user", func(c *Config) { c.Sessions = append(c.Sessions, SessionConfig{}) }, "without user"},
		{"duplicate user", func(c *Config) { c.Sessions = append(c.Sessions, SessionConfig{User: "alice"}) }, "twice"},
		{"user with separator", func(c *Config) { c.Sessions = append(c.Sessions, SessionConfig{User: "../victim"}) }, "cannot name a socket"},
		{"dot user", func(c *Config) { c.Sessions = append(c.Sessions, SessionConfig{User: ".."}) }, "cannot name a socket"},
		{"user shadowing control socket", func(c *Config) { c.Sessions = append(c.Sessions, SessionConfig{User: "control"}) }, "control socket"},
		{"shared socket", func(c *Config) { c.Sessions[1].Socket = filepath.Join(c.Server.RuntimeDir, "alice.sock") }, "already used by session alice"},
		{"unknown active", func(c *Config) { c.SessionsActive = "carol" }, "sessions_active"},
		{"unknown primary", func(c *Config) { c.Outputs.Primary = "DP-1" }, "outputs.primary"},
		{"primary left to discovery", func(c *Config) { c.Outputs.Primary, c.Outputs.Discover = "DP-1", true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestSocketPaths(t *testing.T) {
	c := DefaultConfig
	c.Server.RuntimeDir = "/run/waypolicy"
	c.Sessions = []SessionConfig{{User: "alice"}, {User: "bob", Socket: "/tmp/bob.sock"}}

	assert.Equal(t, "/run/waypolicy/control.sock", c.ControlSocketPath())
	assert.Equal(t, "/run/waypolicy/alice.sock", c.SessionSocketPath("alice"))
	assert.Equal(t, "/tmp/bob.sock", c.SessionSocketPath("bob"))
	assert.Equal(t, "/run/waypolicy/carol.sock", c.SessionSocketPath("carol"))

	c.Server.ControlSocket = "/var/run/policy.sock"
	assert.Equal(t, "/var/run/policy.sock", c.ControlSocketPath())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	c.Server.ControlSocket = "~/policy.sock"
	assert.Equal(t, filepath.Join(home, "policy.sock"), c.ControlSocketPath())
}

func TestGetConfigPath(t *testing.T) {
	reset(t)

	t.Setenv("XDG_CONFIG_HOME", "/home/testuser/.xdg")
	assert.Equal(t, "/home/testuser/.xdg/waypolicy/waypolicy.toml", GetConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	assert.Equal(t, "/home/testuser/.config/waypolicy/waypolicy.toml", GetConfigPath())

	SetConfigPath("/etc/waypolicy/custom.toml")
	assert.Equal(t, "/etc/waypolicy/custom.toml", GetConfigPath())
}

func TestAddRemoveSession(t *testing.T) {
	reset(t)
	path := writeConfig(t, t.TempDir(), sampleConfig)
	SetConfigPath(path)
	require.NoError(t, Init())

	require.NoError(t, AddSession(SessionConfig{User: "carol", Socket: "/tmp/carol.sock"}))
	require.NoError(t, AddSession(SessionConfig{User: "bob"}))
	assert.Equal(t, []SessionConfig{
		{User: "alice"},
		{User: "carol", Socket: "/tmp/carol.sock"},
		{User: "bob"},
	}, Get().Sessions)

	require.NoError(t, RemoveSession("alice"))
	assert.Empty(t, Get().SessionsActive, "removing the active session clears sessions_active")
	assert.Error(t, RemoveSession("alice"))

	// The file on disk reflects the changes.
	viper.Reset()
	Set(nil)
	SetConfigPath(path)
	require.NoError(t, Init())
	assert.Equal(t, []SessionConfig{
		{User: "carol", Socket: "/tmp/carol.sock"},
		{User: "bob"},
	}, Get().Sessions)
}

func TestWatch(t *testing.T) {
	reset(t)
	path := writeConfig(t, t.TempDir(), "[logging]\nlevel = \"info\"\n")
	SetConfigPath(path)
	require.NoError(t, Init())

	var calls atomic.Int32
	Watch(func(*Config) { calls.Add(1) })

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0644))

	// A write may surface as several events, some seeing a truncated file.
	assert.Eventually(t, func() bool {
		return Get().Logging.Level == "debug"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Positive(t, calls.Load())
}
