package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/charmbracelet/log"
)

// watchBuffer is how many events a watcher may lag behind before it is
// disconnected.
const watchBuffer = 256

// Handler executes control requests on behalf of the socket server.
type Handler interface {
	// HandleControl executes one request and returns its reply.
	HandleControl(msg *wire.Message) *wire.Message
	// Subscribe registers fn for every policy event until cancel is called.
	// fn runs on the dispatch loop and must not block.
	Subscribe(fn func(event.Event)) (cancel func(), err error)
}

// SocketServer handles incoming control connections
type SocketServer struct {
	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	handler    Handler
	conns      map[net.Conn]struct{}
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	running    bool
	log        *log.Logger
}

// NewSocketServer creates a control socket server listening at socketPath
func NewSocketServer(socketPath string, handler Handler) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handler:    handler,
		conns:      make(map[net.Conn]struct{}),
		log:        logger.With("ipc"),
	}
}

// RemoveStaleSocket removes path if it is a unix socket left behind by an
// earlier listener. A missing path is fine; anything else at path is refused
// and left in place.
func RemoveStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat existing socket: %w", err)
	}
	if fi.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("refusing to replace %s: not a socket", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	return nil
}

// Path returns the socket path.
func (s *SocketServer) Path() string {
	return s.socketPath
}

// Start starts the socket server
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := RemoveStaleSocket(s.socketPath); err != nil {
		return err
	}

	// Create socket directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	// Set socket permissions (user only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	s.log.Infof("control socket listening at %s", s.socketPath)
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *SocketServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	// Clean up socket file
	if err := RemoveStaleSocket(s.socketPath); err != nil {
		s.log.Warn("failed to remove control socket", "err", err)
	}
	s.log.Info("control socket stopped")
}

func (s *SocketServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Errorf("Failed to accept connection: %v", err)
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection serves requests on conn until it closes. A watch request
// turns the connection into an event stream.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.log.Debug("control connection established")

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			s.log.Debugf("Connection closed or read error: %v", err)
			return
		}

		if msg.Op == wire.OpWatch {
			s.streamEvents(ctx, conn)
			return
		}

		if err := wire.WriteMessage(conn, s.handler.HandleControl(msg)); err != nil {
			s.log.Errorf("Failed to send response: %v", err)
			return
		}
	}
}

func (s *SocketServer) streamEvents(ctx context.Context, conn net.Conn) {
	events := make(chan event.Event, watchBuffer)
	overflow := make(chan struct{})
	var once sync.Once

	cancel, err := s.handler.Subscribe(func(e event.Event) {
		select {
		case events <- e:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		wire.WriteMessage(conn, NewErrorMessage(0, err.Error()))
		return
	}
	defer cancel()

	if err := wire.WriteMessage(conn, &wire.Message{Op: wire.OpOK}); err != nil {
		return
	}
	s.log.Debug("watcher subscribed")

	// A watcher sends nothing after its request; EOF means it went away.
	hangup := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(hangup)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			s.log.Debug("watcher disconnected")
			return
		case <-overflow:
			s.log.Warn("watcher fell behind, disconnecting")
			return
		case e := <-events:
			if err := wire.WriteMessage(conn, NewEventMessage(e)); err != nil {
				return
			}
		}
	}
}
