package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/ipc"
	"github.com/bnema/waypolicy/internal/output"
	"github.com/bnema/waypolicy/internal/shortcut"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// protoClient speaks the session socket protocol.
type protoClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, path string) *protoClient {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &protoClient{t: t, conn: conn}
}

func (c *protoClient) send(msg *wire.Message) {
	c.t.Helper()
	require.NoError(c.t, wire.WriteMessage(c.conn, msg))
}

func (c *protoClient) recv() *wire.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := wire.ReadMessage(c.conn)
	require.NoError(c.t, err)
	return msg
}

// closed reports whether the server hung up on the client.
func (c *protoClient) closed() bool {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := wire.ReadMessage(c.conn)
	var netErr net.Error
	return err != nil && !(errors.As(err, &netErr) && netErr.Timeout())
}

func (c *protoClient) bind(iface string) uint32 {
	c.t.Helper()
	c.send(&wire.Message{Op: wire.OpBind, Interface: iface, Version: 1})
	msg := c.recv()
	require.Equal(c.t, wire.OpBound, msg.Op, "got %s: %s", msg.Op, msg.Text)
	return msg.Object
}

func startServer(t *testing.T) (*Server, *config.Config, *ipc.Client) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Sessions = []config.SessionConfig{{User: "alice"}, {User: "bob"}}
	cfg.SessionsActive = "alice"

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s, cfg, ipc.NewClientWithTimeout(cfg.ControlSocketPath(), 2*time.Second)
}

func TestServer_SessionsFromConfig(t *testing.T) {
	_, cfg, ctl := startServer(t)

	st, err := ctl.Status()
	require.NoError(t, err)
	assert.Equal(t, []ipc.SessionStatus{
		{User: "alice", Path: filepath.Join(cfg.Server.RuntimeDir, "alice.sock"), Enabled: true},
		{User: "bob", Path: filepath.Join(cfg.Server.RuntimeDir, "bob.sock")},
	}, st.Sessions)

	// The inactive session refuses clients.
	bob := dial(t, cfg.SessionSocketPath("bob"))
	assert.True(t, bob.closed())

	alice := dial(t, cfg.SessionSocketPath("alice"))
	id := alice.bind(output.ManagerInterface)
	assert.Equal(t, &wire.Message{Op: wire.OpPrimary, Object: id, Name: "eDP-1"}, alice.recv())
}

func TestServer_SessionSocketsStayInRuntimeDir(t *testing.T) {
	_, cfg, ctl := startServer(t)

	// "control" would land on the control socket itself.
	err := ctl.AddSession("control", "")
	assert.True(t, errors.Is(err, fault.Conflict), "got %v", err)
	fi, err := os.Lstat(cfg.ControlSocketPath())
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, fi.Mode().Type())
	_, err = ctl.Status()
	require.NoError(t, err)

	victim := filepath.Join(filepath.Dir(cfg.Server.RuntimeDir), "victim.sock")
	require.NoError(t, os.Mkdir(victim, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "keep"), []byte("x"), 0o600))

	err = ctl.AddSession("../victim", "")
	assert.True(t, errors.Is(err, fault.Invalid), "got %v", err)
	_, err = os.Stat(filepath.Join(victim, "keep"))
	assert.NoError(t, err)

	// An explicit path that is not a socket is left alone too.
	err = ctl.AddSession("carol", victim)
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(victim, "keep"))
	assert.NoError(t, err)

	st, err := ctl.Status()
	require.NoError(t, err)
	assert.Len(t, st.Sessions, 2)
}

// detachedTransport belongs to no session.
type detachedTransport struct{}

func (detachedTransport) SetEnabled(bool) error { return nil }
func (detachedTransport) Enabled() bool         { return true }
func (detachedTransport) Close() error          { return nil }

func TestServer_DropsClientOfUnknownTransport(t *testing.T) {
	s, _, ctl := startServer(t)

	local, remote := net.Pipe()
	defer remote.Close()
	s.acceptClient("alice", detachedTransport{}, local)

	require.NoError(t, remote.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := remote.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection left open")

	st, err := ctl.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Clients)
}

func TestServer_ShortcutArbitration(t *testing.T) {
	_, cfg, ctl := startServer(t)
	path := cfg.SessionSocketPath("alice")

	a := dial(t, path)
	b := dial(t, path)
	ma := a.bind(shortcut.ManagerInterface)
	mb := b.bind(shortcut.ManagerInterface)

	a.send(&wire.Message{Op: wire.OpRegisterShortcut, Object: ma, Key: "Ctrl+Alt+T", Flag: true})
	granted := a.recv()
	require.Equal(t, wire.OpShortcutGranted, granted.Op)

	b.send(&wire.Message{Op: wire.OpRegisterShortcut, Object: mb, Key: "Ctrl+Alt+T", Flag: true})
	released := a.recv()
	assert.Equal(t, wire.OpShortcutReleased, released.Op)
	assert.Equal(t, granted.Object, released.Object)
	assert.Equal(t, uint32(event.ReasonPreempted), released.Code)
	grantedB := b.recv()
	require.Equal(t, wire.OpShortcutGranted, grantedB.Op)

	id, delivered, err := ctl.TriggerShortcut("ctrl+alt+t")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, grantedB.Object, id)
	assert.Equal(t, &wire.Message{Op: wire.OpShortcutActivated, Object: id, Key: "Ctrl+Alt+T"}, b.recv())

	// A disconnect releases the slot.
	b.conn.Close()
	assert.Eventually(t, func() bool {
		st, err := ctl.Status()
		if err != nil {
			return false
		}
		for _, sc := range st.Shortcuts {
			if sc.State == "granted" {
				return false
			}
		}
		return st.Clients == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_ErrorsReachClient(t *testing.T) {
	_, cfg, _ := startServer(t)
	c := dial(t, cfg.SessionSocketPath("alice"))

	c.send(&wire.Message{Op: wire.OpBind, Interface: output.ManagerInterface, Version: 9})
	msg := c.recv()
	assert.Equal(t, wire.OpError, msg.Op)
	assert.Equal(t, uint32(fault.VersionUnsupported), msg.Code)

	id := c.bind(output.ManagerInterface)
	c.recv() // current primary
	c.send(&wire.Message{Op: wire.OpSetPrimary, Object: id, Name: "DP-9"})
	msg = c.recv()
	assert.Equal(t, wire.OpError, msg.Op)
	assert.Equal(t, id, msg.Object)
	assert.Equal(t, uint32(fault.NotFound), msg.Code)
}

func TestServer_ActivateAndWatch(t *testing.T) {
	s, cfg, ctl := startServer(t)

	var mu sync.Mutex
	var seen []event.Event
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := s.Bus().Len()
	go ctl.Watch(ctx, func(e event.Event) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	require.Eventually(t, func() bool { return s.Bus().Len() > base }, 2*time.Second, 10*time.Millisecond)

	alice := dial(t, cfg.SessionSocketPath("alice"))
	id := alice.bind(output.ManagerInterface)
	alice.recv()

	require.NoError(t, ctl.Activate("bob"))
	require.NoError(t, ctl.SetPrimary("HDMI-0"))

	// Clients of a deactivated session keep their connection.
	assert.Equal(t, &wire.Message{Op: wire.OpPrimary, Object: id, Name: "HDMI-0"}, alice.recv())

	bob := dial(t, cfg.SessionSocketPath("bob"))
	bob.bind(output.ManagerInterface)

	refused := dial(t, cfg.SessionSocketPath("alice"))
	assert.True(t, refused.closed())

	st, err := ctl.Status()
	require.NoError(t, err)
	assert.False(t, st.Sessions[0].Enabled)
	assert.True(t, st.Sessions[1].Enabled)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []event.Event{
		{Type: event.SessionActivated, User: "bob"},
		{Type: event.PrimaryChanged, Output: "HDMI-0"},
	}, seen)
	mu.Unlock()
}

func TestServer_ReplacedSessionDropsClients(t *testing.T) {
	_, cfg, ctl := startServer(t)

	old := dial(t, cfg.SessionSocketPath("alice"))
	old.bind(shortcut.ManagerInterface)

	require.NoError(t, ctl.AddSession("alice", ""))
	assert.True(t, old.closed())

	// The replacement inherits the enabled state.
	fresh := dial(t, cfg.SessionSocketPath("alice"))
	fresh.bind(shortcut.ManagerInterface)

	require.NoError(t, ctl.RemoveSession("alice"))
	assert.True(t, fresh.closed())

	err := ctl.RemoveSession("alice")
	assert.True(t, errors.Is(err, fault.NotFound))
}

func TestServer_Stop(t *testing.T) {
	s, cfg, ctl := startServer(t)
	c := dial(t, cfg.SessionSocketPath("alice"))
	c.bind(shortcut.ManagerInterface)

	s.Stop()
	assert.True(t, c.closed())
	assert.False(t, ctl.IsRunning())
	s.Stop()
}

func TestServer_StopAfterContextCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions = []config.SessionConfig{{User: "alice"}}

	s, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.FileExists(t, cfg.SessionSocketPath("alice"))

	cancel()
	<-s.loop.Done()
	s.Stop()

	assert.True(t, s.display.TornDown())
	assert.NoFileExists(t, cfg.SessionSocketPath("alice"))
}
