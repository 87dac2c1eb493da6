package server

import (
	"bufio"
	"net"
	"sync"

	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/session"
	"github.com/bnema/waypolicy/internal/wire"
)

// outboxSize bounds the frames queued for one client. A client that lets it
// fill up is disconnected rather than stalling the dispatch loop.
const outboxSize = 128

// clientConn is one protocol client on a session socket. The reader and
// writer goroutines never touch protocol state; frames are handed to the
// dispatch loop, and the loop hands replies back through the outbox.
type clientConn struct {
	srv       *Server
	user      string
	transport session.Transport
	nc        net.Conn

	out       chan *wire.Message
	done      chan struct{}
	closeOnce sync.Once

	// client is set and read on the dispatch loop only.
	client *global.Client
}

// acceptClient is the session transports' connection handler. It runs on the
// accept goroutine of the transport.
func (s *Server) acceptClient(user string, t session.Transport, nc net.Conn) {
	c := &clientConn{
		srv:       s,
		user:      user,
		transport: t,
		nc:        nc,
		out:       make(chan *wire.Message, outboxSize),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()
}

// Send queues msg for the client. It runs on the dispatch loop and never
// blocks.
func (c *clientConn) Send(msg *wire.Message) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		c.srv.log.Warn("client not reading, disconnecting", "user", c.user)
		c.close()
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

func (c *clientConn) readLoop() {
	defer c.srv.wg.Done()
	defer c.close()

	if !c.srv.loop.Post(func() { c.srv.connect(c) }) {
		return
	}

	for {
		msg, err := wire.ReadMessage(c.nc)
		if err != nil {
			c.srv.log.Debug("client connection closed", "user", c.user, "err", err)
			break
		}
		if !c.srv.loop.Post(func() { c.srv.dispatch(c, msg) }) {
			return
		}
	}
	c.srv.loop.Post(func() { c.srv.disconnect(c) })
}

// writeLoop drains the outbox, flushing once per burst of queued frames.
func (c *clientConn) writeLoop() {
	defer c.srv.wg.Done()

	w := bufio.NewWriter(c.nc)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := wire.WriteMessage(w, msg); err != nil {
				c.close()
				return
			}
			for drained := false; !drained; {
				select {
				case msg := <-c.out:
					if err := wire.WriteMessage(w, msg); err != nil {
						c.close()
						return
					}
				default:
					drained = true
				}
			}
			if err := w.Flush(); err != nil {
				c.srv.log.Debug("failed to write to client", "user", c.user, "err", err)
				c.close()
				return
			}
		}
	}
}

// connect registers the connection as a display client of the session owning
// its transport. A transport replaced or removed since the accept has no
// owner, and its connection is dropped. Runs on the loop.
func (s *Server) connect(c *clientConn) {
	user, ok := s.sessions.ResolveUser(c.transport)
	if !ok {
		s.log.Info("closing client of ended session", "user", c.user)
		c.close()
		return
	}
	client, err := s.display.Connect(user, c)
	if err != nil {
		s.log.Warn("client rejected", "user", c.user, "err", err)
		c.close()
		return
	}
	c.client = client
	s.log.Info("client connected", "user", c.user, "client", client.ID)
}

// disconnect destroys everything the client owned. Runs on the loop.
func (s *Server) disconnect(c *clientConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	if c.client == nil {
		return
	}
	s.display.Disconnect(c.client.ID)
	s.log.Info("client disconnected", "user", c.user, "client", c.client.ID)
}

// dropStaleClients closes connections accepted through a session socket that
// no longer exists for user. Runs on the loop, from the event bus.
func (s *Server) dropStaleClients(user string) {
	var live session.Transport
	if sess, ok := s.sessions.Lookup(user); ok {
		live = sess.Transport
	}

	s.mu.Lock()
	var stale []*clientConn
	for c := range s.conns {
		if c.user == user && c.transport != live {
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.log.Info("closing client of ended session", "user", user)
		c.close()
	}
}
