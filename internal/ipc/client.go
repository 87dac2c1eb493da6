package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
)

// ErrNotRunning is returned when nothing listens on the control socket.
var ErrNotRunning = errors.New("waypolicy is not running")

// Client sends requests to a running waypolicy daemon. Every request uses its
// own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the control socket at socketPath
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// NewClientWithTimeout creates a client with a custom per-request timeout
func NewClientWithTimeout(socketPath string, timeout time.Duration) *Client {
	c := NewClient(socketPath)
	c.timeout = timeout
	return c
}

// Status queries the daemon state.
func (c *Client) Status() (*Status, error) {
	resp, err := c.request(&wire.Message{Op: wire.OpStatus})
	if err != nil {
		return nil, err
	}
	return ParseStatusReply(resp)
}

// IsRunning reports whether a daemon answers on the socket.
func (c *Client) IsRunning() bool {
	_, err := c.Status()
	return err == nil
}

// AddSession starts, or replaces, the session socket of user at path.
func (c *Client) AddSession(user, path string) error {
	return c.expectOK(&wire.Message{Op: wire.OpAddSession, Name: user, Text: path})
}

func (c *Client) RemoveSession(user string) error {
	return c.expectOK(&wire.Message{Op: wire.OpRemoveSession, Name: user})
}

// Activate makes user's session socket the only enabled one.
func (c *Client) Activate(user string) error {
	return c.expectOK(&wire.Message{Op: wire.OpActivate, Name: user})
}

func (c *Client) AddOutput(name string) error {
	return c.expectOK(&wire.Message{Op: wire.OpAddOutput, Name: name})
}

func (c *Client) RemoveOutput(name string) error {
	return c.expectOK(&wire.Message{Op: wire.OpRemoveOutput, Name: name})
}

func (c *Client) SetPrimary(name string) error {
	return c.expectOK(&wire.Message{Op: wire.OpControlSetPrimary, Name: name})
}

// CreateVirtual groups members under a new virtual output.
func (c *Client) CreateVirtual(name string, members []string) error {
	return c.expectOK(&wire.Message{Op: wire.OpControlCreateVirtual, Name: name, Names: members})
}

func (c *Client) DestroyVirtual(name string) error {
	return c.expectOK(&wire.Message{Op: wire.OpDestroyVirtual, Name: name})
}

// VirtualError reports a fault to the clients bound to a virtual output.
func (c *Client) VirtualError(name string, code uint32, text string) error {
	return c.expectOK(&wire.Message{Op: wire.OpControlVirtualError, Name: name, Code: code, Text: text})
}

// TriggerShortcut delivers a key press to the context holding key. It
// reports the receiving context, if any.
func (c *Client) TriggerShortcut(key string) (uint32, bool, error) {
	resp, err := c.request(&wire.Message{Op: wire.OpTriggerShortcut, Key: key})
	if err != nil {
		return 0, false, err
	}
	return resp.Object, resp.Flag, nil
}

// Watch streams policy events to fn until ctx is done or the daemon goes
// away.
func (c *Client) Watch(ctx context.Context, fn func(event.Event)) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}
	if err := wire.WriteMessage(conn, &wire.Message{Op: wire.OpWatch}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	resp, err := wire.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := replyError(resp); err != nil {
		return err
	}
	conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch stream closed: %w", err)
		}
		e, err := ParseEventMessage(msg)
		if err != nil {
			return err
		}
		fn(e)
	}
}

func (c *Client) expectOK(msg *wire.Message) error {
	resp, err := c.request(msg)
	if err != nil {
		return err
	}
	if resp.Op != wire.OpOK {
		return fmt.Errorf("unexpected response type: %s", resp.Op)
	}
	return nil
}

// request sends a message and returns the response
func (c *Client) request(msg *wire.Message) (*wire.Message, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close IPC connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}

	if err := wire.WriteMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	resp, err := wire.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := replyError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if isConnectionRefused(err) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("failed to connect to waypolicy: %w", err)
	}
	return conn, nil
}

func replyError(resp *wire.Message) error {
	if resp.Op == wire.OpError {
		return &ServerError{Code: resp.Code, Text: resp.Text}
	}
	return nil
}

// isConnectionRefused checks if the error is a connection refused error
func isConnectionRefused(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Op == "dial"
	}
	return false
}
