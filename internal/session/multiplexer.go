// Package session keeps one transport endpoint per logical user session and
// switches which of them is live.
package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/charmbracelet/log"
)

// Transport is a listening endpoint for one session.
type Transport interface {
	SetEnabled(enabled bool) error
	Enabled() bool
	Close() error
}

// Descriptor says where and how a transport is created.
type Descriptor struct {
	Path string
}

// Factory creates the transport for a session.
type Factory interface {
	Create(user string, desc Descriptor) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(user string, desc Descriptor) (Transport, error)

func (f FactoryFunc) Create(user string, desc Descriptor) (Transport, error) {
	return f(user, desc)
}

// Session is one user's endpoint.
type Session struct {
	User       string
	Descriptor Descriptor
	Transport  Transport
}

// Info is a snapshot of a session for status reporting.
type Info struct {
	User    string
	Path    string
	Enabled bool
}

// Multiplexer owns the sessions keyed by user. It is not safe for concurrent
// use.
type Multiplexer struct {
	factory  Factory
	bus      *event.Bus[event.Event]
	sessions map[string]*Session
	log      *log.Logger
}

// ValidUser checks that user can key a session and name its socket file: it
// must be non-empty and must not contain a path separator or "..".
func ValidUser(user string) error {
	if user == "" {
		return fault.New(fault.Invalid, fault.ErrEmptyName, "")
	}
	if strings.ContainsAny(user, "/\\\x00") || strings.Contains(user, "..") || user == "." {
		return fault.New(fault.Invalid, fault.ErrBadUser, user)
	}
	return nil
}

// NewMultiplexer returns an empty multiplexer publishing on bus.
func NewMultiplexer(factory Factory, bus *event.Bus[event.Event]) *Multiplexer {
	return &Multiplexer{
		factory:  factory,
		bus:      bus,
		sessions: make(map[string]*Session),
		log:      logger.With("session"),
	}
}

// AddSession creates the transport for user. An existing session under the
// same user is disabled and destroyed first and SessionReplaced is emitted;
// the replacement inherits its enabled state.
func (m *Multiplexer) AddSession(user string, desc Descriptor) (*Session, error) {
	if err := ValidUser(user); err != nil {
		return nil, err
	}
	for _, other := range m.sessions {
		if other.User != user && desc.Path != "" && other.Descriptor.Path == desc.Path {
			return nil, fault.New(fault.Conflict, fault.ErrPathInUse, desc.Path)
		}
	}

	var q event.Queue
	defer q.Flush(m.bus)

	wasEnabled := false
	if old, ok := m.sessions[user]; ok {
		wasEnabled = old.Transport.Enabled()
		m.destroy(old)
		q.Add(event.Event{Type: event.SessionReplaced, User: user})
		m.log.Info("session replaced", "user", user)
	}

	transport, err := m.factory.Create(user, desc)
	if err != nil {
		if q.Len() > 0 {
			q.Add(event.Event{Type: event.SessionRemoved, User: user})
		}
		return nil, fmt.Errorf("create transport for %s: %w", user, err)
	}

	s := &Session{User: user, Descriptor: desc, Transport: transport}
	m.sessions[user] = s

	if wasEnabled {
		if err := transport.SetEnabled(true); err != nil {
			m.log.Error("failed to re-enable replaced session", "user", user, "err", err)
		}
	}
	m.log.Info("session added", "user", user, "path", desc.Path, "enabled", transport.Enabled())
	return s, nil
}

// RemoveSession disables and destroys the session for user.
func (m *Multiplexer) RemoveSession(user string) error {
	s, ok := m.sessions[user]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownSession, user)
	}

	m.destroy(s)
	m.log.Info("session removed", "user", user)
	m.bus.Publish(event.Event{Type: event.SessionRemoved, User: user})
	return nil
}

// Activate enables the session for user and disables every other one. All
// other sessions are disabled before the target is enabled, and a single
// SessionActivated is emitted once both steps are done. Activating the
// session that is already the only enabled one emits nothing.
func (m *Multiplexer) Activate(user string) error {
	target, ok := m.sessions[user]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownSession, user)
	}
	if active, ok := m.Active(); ok && active == user && m.enabledCount() == 1 {
		return nil
	}

	for _, s := range m.sorted() {
		if s == target || !s.Transport.Enabled() {
			continue
		}
		if err := s.Transport.SetEnabled(false); err != nil {
			return fmt.Errorf("disable session %s: %w", s.User, err)
		}
	}
	if err := target.Transport.SetEnabled(true); err != nil {
		return fmt.Errorf("enable session %s: %w", user, err)
	}

	m.log.Info("session activated", "user", user)
	m.bus.Publish(event.Event{Type: event.SessionActivated, User: user})
	return nil
}

// Active returns the enabled session's user.
func (m *Multiplexer) Active() (string, bool) {
	for _, s := range m.sorted() {
		if s.Transport.Enabled() {
			return s.User, true
		}
	}
	return "", false
}

// ResolveUser finds the user owning transport. Session counts are bounded by
// concurrent users, so a scan is enough.
func (m *Multiplexer) ResolveUser(t Transport) (string, bool) {
	for user, s := range m.sessions {
		if s.Transport == t {
			return user, true
		}
	}
	return "", false
}

// Lookup returns the session for user.
func (m *Multiplexer) Lookup(user string) (*Session, bool) {
	s, ok := m.sessions[user]
	return s, ok
}

// Sessions lists every session ordered by user.
func (m *Multiplexer) Sessions() []Info {
	var infos []Info
	for _, s := range m.sorted() {
		infos = append(infos, Info{User: s.User, Path: s.Descriptor.Path, Enabled: s.Transport.Enabled()})
	}
	return infos
}

// Close removes every session.
func (m *Multiplexer) Close() {
	for _, s := range m.sorted() {
		_ = m.RemoveSession(s.User)
	}
}

func (m *Multiplexer) destroy(s *Session) {
	if err := s.Transport.SetEnabled(false); err != nil {
		m.log.Warn("failed to disable session", "user", s.User, "err", err)
	}
	if err := s.Transport.Close(); err != nil {
		m.log.Warn("failed to close session transport", "user", s.User, "err", err)
	}
	delete(m.sessions, s.User)
}

func (m *Multiplexer) enabledCount() int {
	n := 0
	for _, s := range m.sessions {
		if s.Transport.Enabled() {
			n++
		}
	}
	return n
}

func (m *Multiplexer) sorted() []*Session {
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].User < sessions[j].User })
	return sessions
}
