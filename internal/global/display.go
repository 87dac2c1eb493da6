// Package global implements the protocol-global substrate: a Display on which
// interfaces are advertised, the clients connected to it, and the per-client
// resources they bind.
//
// Resources live in tables owned by their Global and are addressed by ObjectID.
// Nothing outside this package keeps a live pointer across a dispatch; code
// that needs a resource later stores its ObjectID and looks it up again, so a
// detached global or a disconnected client invalidates by table removal.
//
// None of the types here are safe for concurrent use. They are driven from the
// single dispatch loop.
package global

import (
	"sort"

	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ObjectID addresses a server-side protocol object.
type ObjectID uint32

// ClientID identifies one client connection.
type ClientID string

// Sink accepts messages for a connected client. Send must not block the
// dispatch loop.
type Sink interface {
	Send(msg *wire.Message)
}

// Client is one connection to the display.
type Client struct {
	ID ClientID
	// User is the session the client connected through, if known.
	User string

	sink Sink
	gone bool
}

// Send delivers msg unless the client has disconnected.
func (c *Client) Send(msg *wire.Message) {
	if c == nil || c.gone || c.sink == nil {
		return
	}
	c.sink.Send(msg)
}

// Connected reports whether the client is still attached to its display.
func (c *Client) Connected() bool {
	return c != nil && !c.gone
}

// GlobalInfo describes an advertised global.
type GlobalInfo struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Display is the registration facility for protocol globals.
type Display struct {
	log *log.Logger

	globals    map[string]*Global
	clients    map[ClientID]*Client
	objects    map[ObjectID]*Resource
	nextName   uint32
	nextObject ObjectID
	tornDown   bool
}

// NewDisplay returns an empty display.
func NewDisplay() *Display {
	return &Display{
		log:     logger.With("display"),
		globals: make(map[string]*Global),
		clients: make(map[ClientID]*Client),
		objects: make(map[ObjectID]*Resource),
	}
}

// Connect registers a new client whose messages go to sink.
func (d *Display) Connect(user string, sink Sink) (*Client, error) {
	if d.tornDown {
		return nil, fault.New(fault.DisplayTornDown, fault.ErrTornDown, "")
	}
	c := &Client{
		ID:   ClientID(uuid.NewString()),
		User: user,
		sink: sink,
	}
	d.clients[c.ID] = c
	d.log.Debug("client connected", "client", c.ID, "user", user)
	return c, nil
}

// Client looks up a connected client.
func (d *Display) Client(id ClientID) (*Client, bool) {
	c, ok := d.clients[id]
	return c, ok
}

// Clients returns the number of connected clients.
func (d *Display) Clients() int {
	return len(d.clients)
}

// Disconnect destroys every resource the client holds and forgets the client.
// The client is marked gone first so no teardown message is sent to it.
// Disconnecting an unknown or already disconnected client is a no-op.
func (d *Display) Disconnect(id ClientID) {
	c, ok := d.clients[id]
	if !ok {
		return
	}
	c.gone = true
	delete(d.clients, id)

	for _, g := range d.sortedGlobals() {
		g.destroyClient(id)
	}
	d.log.Debug("client disconnected", "client", id)
}

// Global returns the global registered for iface.
func (d *Display) Global(iface string) (*Global, bool) {
	g, ok := d.globals[iface]
	return g, ok
}

// Globals lists the advertised globals in registration order.
func (d *Display) Globals() []GlobalInfo {
	var infos []GlobalInfo
	for _, g := range d.sortedGlobals() {
		infos = append(infos, GlobalInfo{Name: g.name, Interface: g.iface, Version: g.version})
	}
	return infos
}

// Resource looks up a live client resource by object id.
func (d *Display) Resource(id ObjectID) (*Resource, bool) {
	r, ok := d.objects[id]
	return r, ok
}

// NewObjectID allocates an id from the display's object namespace. Managers
// use it for objects that are not resources of a global, such as shortcut
// contexts.
func (d *Display) NewObjectID() ObjectID {
	d.nextObject++
	return d.nextObject
}

// TornDown reports whether Teardown has run.
func (d *Display) TornDown() bool {
	return d.tornDown
}

// Teardown detaches every global, newest first, then drops all clients.
// Calling it again is a no-op.
func (d *Display) Teardown() {
	if d.tornDown {
		return
	}
	d.tornDown = true

	globals := d.sortedGlobals()
	for i := len(globals) - 1; i >= 0; i-- {
		globals[i].Detach()
	}
	for id, c := range d.clients {
		c.gone = true
		delete(d.clients, id)
	}
	d.log.Info("display torn down")
}

func (d *Display) register(g *Global) error {
	if d.tornDown {
		return fault.New(fault.DisplayTornDown, fault.ErrTornDown, g.iface)
	}
	if _, exists := d.globals[g.iface]; exists {
		return fault.New(fault.AlreadyRegistered, fault.ErrRegistered, g.iface)
	}
	d.nextName++
	g.name = d.nextName
	d.globals[g.iface] = g
	return nil
}

func (d *Display) unregister(g *Global) {
	if cur, ok := d.globals[g.iface]; ok && cur == g {
		delete(d.globals, g.iface)
	}
}

func (d *Display) sortedGlobals() []*Global {
	globals := make([]*Global, 0, len(d.globals))
	for _, g := range d.globals {
		globals = append(globals, g)
	}
	sort.Slice(globals, func(i, j int) bool { return globals[i].name < globals[j].name })
	return globals
}
