// Package server wires the protocol managers to their transports and drives
// them from a single dispatch loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/display"
	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/ipc"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/output"
	"github.com/bnema/waypolicy/internal/session"
	"github.com/bnema/waypolicy/internal/shortcut"
	"github.com/charmbracelet/log"
)

// Server owns the display, the managers advertised on it and the sockets
// feeding them.
type Server struct {
	config *config.Config
	loop   *Loop
	bus    *event.Bus[event.Event]

	display   *global.Display
	sessions  *session.Multiplexer
	outputs   *output.Registry
	virtual   *output.Compositor
	shortcuts *shortcut.Manager
	control   *ipc.SocketServer

	mu      sync.Mutex
	conns   map[*clientConn]struct{}
	started bool
	stopped bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *log.Logger
}

// discoverOutputs is replaced in tests.
var discoverOutputs = display.Discover

// New builds the display and attaches every global at its configured
// version. Configured outputs are registered here; sockets open in Start.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		config: cfg,
		loop:   NewLoop(cfg.Server.QueueSize),
		bus:    event.NewBus[event.Event](),
		conns:  make(map[*clientConn]struct{}),
		log:    logger.With("server"),
	}

	s.display = global.NewDisplay()
	s.sessions = session.NewMultiplexer(session.NewUnixFactory(s.acceptClient), s.bus)
	s.outputs = output.NewRegistry(s.bus)
	s.virtual = output.NewCompositor(s.outputs, s.bus)
	s.shortcuts = shortcut.NewManager(s.bus)

	if _, err := s.outputs.Attach(s.display, cfg.Globals.OutputManagerVersion); err != nil {
		return nil, fmt.Errorf("failed to attach output manager: %w", err)
	}
	if _, err := s.virtual.Attach(s.display, cfg.Globals.VirtualOutputVersion); err != nil {
		return nil, fmt.Errorf("failed to attach virtual output manager: %w", err)
	}
	if _, err := s.shortcuts.Attach(s.display, cfg.Globals.ShortcutManagerVersion); err != nil {
		return nil, fmt.Errorf("failed to attach shortcut manager: %w", err)
	}

	names := cfg.Outputs.Names
	if cfg.Outputs.Discover {
		discovered, err := discoverOutputs(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to discover outputs: %w", err)
		}
		names = mergeOutputs(names, discovered)
	}
	for _, name := range names {
		if err := s.outputs.Register(name); err != nil {
			return nil, fmt.Errorf("failed to register output %s: %w", name, err)
		}
	}
	if cfg.Outputs.Primary != "" {
		if err := s.outputs.SetPrimary(cfg.Outputs.Primary); err != nil {
			return nil, fmt.Errorf("failed to set primary output: %w", err)
		}
	}

	s.bus.SubscribeFiltered(func(e event.Event) bool {
		return e.Type == event.SessionReplaced || e.Type == event.SessionRemoved
	}, func(e event.Event) {
		s.dropStaleClients(e.User)
	})

	s.control = ipc.NewSocketServer(cfg.ControlSocketPath(), s)
	return s, nil
}

// Start runs the dispatch loop, opens the configured session sockets and the
// control socket.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop.Run(ctx)
	}()

	err := s.loop.Do(ctx, func() error {
		for _, sc := range s.config.Sessions {
			desc, err := s.sessionDescriptor(sc.User, "")
			if err != nil {
				return fmt.Errorf("failed to start session %s: %w", sc.User, err)
			}
			if _, err := s.sessions.AddSession(sc.User, desc); err != nil {
				return fmt.Errorf("failed to start session %s: %w", sc.User, err)
			}
		}
		if active := s.config.SessionsActive; active != "" {
			return s.sessions.Activate(active)
		}
		return nil
	})
	if err != nil {
		s.Stop()
		return err
	}

	if err := s.control.Start(); err != nil {
		s.Stop()
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	s.log.Info("server started", "globals", len(s.display.Globals()), "sessions", len(s.config.Sessions), "control", s.control.Path())
	return nil
}

// Stop closes every socket, tears the display down and waits for all
// goroutines to exit. Stop is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.control.Stop()

	teardown := func() error {
		s.sessions.Close()
		s.display.Teardown()
		return nil
	}
	// Once the loop has exited nothing else touches the managers.
	if !started || errors.Is(s.loop.Do(context.Background(), teardown), ErrStopped) {
		teardown()
	}

	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.bus.Close()
	s.log.Info("server stopped")
}

// Subscribe registers fn for every policy event. fn runs on the dispatch
// loop.
func (s *Server) Subscribe(fn func(event.Event)) (func(), error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}
	return s.bus.Subscribe(fn), nil
}

// Do runs fn on the dispatch loop, where the managers below may be used.
func (s *Server) Do(ctx context.Context, fn func() error) error {
	return s.loop.Do(ctx, fn)
}

// The accessors below return state owned by the dispatch loop. Use them from
// inside Do, or before Start.

func (s *Server) Display() *global.Display       { return s.display }
func (s *Server) Sessions() *session.Multiplexer { return s.sessions }
func (s *Server) Outputs() *output.Registry      { return s.outputs }
func (s *Server) Virtual() *output.Compositor    { return s.virtual }
func (s *Server) Shortcuts() *shortcut.Manager   { return s.shortcuts }
func (s *Server) Bus() *event.Bus[event.Event]   { return s.bus }
func (s *Server) ControlSocketPath() string      { return s.control.Path() }

// sessionDescriptor resolves the socket path of user's session. It never
// hands out the control socket's path.
func (s *Server) sessionDescriptor(user, path string) (session.Descriptor, error) {
	if path == "" {
		path = s.config.SessionSocketPath(user)
	}
	if filepath.Clean(path) == filepath.Clean(s.control.Path()) {
		return session.Descriptor{}, fault.New(fault.Conflict, fault.ErrPathInUse, path)
	}
	return session.Descriptor{Path: path}, nil
}

// mergeOutputs appends discovered monitors not already configured.
func mergeOutputs(names []string, discovered []display.Monitor) []string {
	seen := make(map[string]bool, len(names))
	merged := append([]string(nil), names...)
	for _, name := range names {
		seen[name] = true
	}
	for _, m := range discovered {
		if !seen[m.Name] {
			seen[m.Name] = true
			merged = append(merged, m.Name)
		}
	}
	return merged
}
