package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bnema/waypolicy/internal/ipc"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/charmbracelet/log"
)

var transportLog = logger.With("transport")

// ConnHandler receives connections accepted while a transport is enabled.
// It runs on the accept goroutine.
type ConnHandler func(user string, t Transport, conn net.Conn)

// UnixTransport listens on a unix socket. Connections accepted while the
// transport is disabled are closed immediately.
type UnixTransport struct {
	user     string
	path     string
	listener *net.UnixListener
	handler  ConnHandler
	enabled  atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup
	log      *log.Logger
}

// NewUnixFactory returns a Factory creating unix socket transports that hand
// accepted connections to handler.
func NewUnixFactory(handler ConnHandler) Factory {
	return FactoryFunc(func(user string, desc Descriptor) (Transport, error) {
		return ListenUnix(user, desc, handler)
	})
}

// ListenUnix creates the socket at desc.Path, replacing a stale socket file.
// The transport starts disabled.
func ListenUnix(user string, desc Descriptor, handler ConnHandler) (*UnixTransport, error) {
	if desc.Path == "" {
		return nil, fmt.Errorf("no socket path for session %s", user)
	}

	if err := ipc.RemoveStaleSocket(desc.Path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(desc.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: desc.Path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}
	if err := os.Chmod(desc.Path, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	t := &UnixTransport{
		user:     user,
		path:     desc.Path,
		listener: listener,
		handler:  handler,
		log:      transportLog,
	}

	t.wg.Add(1)
	go t.acceptConnections()

	t.log.Debug("session socket listening", "user", user, "path", desc.Path)
	return t, nil
}

// Path returns the socket path.
func (t *UnixTransport) Path() string {
	return t.path
}

func (t *UnixTransport) SetEnabled(enabled bool) error {
	if t.closed.Load() && enabled {
		return fmt.Errorf("session socket %s is closed", t.path)
	}
	t.enabled.Store(enabled)
	return nil
}

func (t *UnixTransport) Enabled() bool {
	return t.enabled.Load()
}

// Close stops accepting and removes the socket file. Closing twice is a no-op.
// Connections already handed to the handler are not closed here.
func (t *UnixTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.enabled.Store(false)
	return t.listener.Close()
}

// Wait blocks until the accept goroutine has exited.
func (t *UnixTransport) Wait() {
	t.wg.Wait()
}

func (t *UnixTransport) acceptConnections() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.AcceptUnix()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Error("failed to accept connection", "user", t.user, "err", err)
			continue
		}

		if !t.enabled.Load() {
			t.log.Debug("rejecting connection on inactive session", "user", t.user)
			conn.Close()
			continue
		}

		if cred, err := peerCredentials(conn); err == nil {
			t.log.Debug("client connected", "user", t.user, "pid", cred.Pid, "uid", cred.Uid)
		}

		if t.handler == nil {
			conn.Close()
			continue
		}
		t.handler(t.user, t, conn)
	}
}
