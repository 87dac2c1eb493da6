package global

import (
	"sort"

	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/wire"
)

// Cause says why a resource was destroyed.
type Cause int

const (
	// CauseReleased: the client destroyed the object itself.
	CauseReleased Cause = iota
	// CauseDisconnected: the owning client went away.
	CauseDisconnected
	// CauseDetached: the global was detached or the display torn down.
	CauseDetached
)

func (c Cause) String() string {
	switch c {
	case CauseReleased:
		return "released"
	case CauseDisconnected:
		return "disconnected"
	case CauseDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Handler is the per-interface resource factory. Bound runs after a resource
// enters the table; Destroyed runs while it is still in the table, before the
// de-allocation notice is sent.
type Handler interface {
	Bound(r *Resource)
	Destroyed(r *Resource, cause Cause)
}

// Handle is returned by Attach and identifies the registration.
type Handle struct {
	Name      uint32
	Interface string
}

// Resource is one client's bound instance of an interface.
type Resource struct {
	ID        ObjectID
	Client    ClientID
	Version   uint32
	Interface string

	display *Display
}

// Send delivers msg to the owning client if it is still connected.
func (r *Resource) Send(msg *wire.Message) {
	if c, ok := r.display.clients[r.Client]; ok {
		c.Send(msg)
	}
}

// Global is a single advertised capability.
type Global struct {
	iface   string
	version uint32
	handler Handler

	display   *Display
	name      uint32
	detached  bool
	resources map[ObjectID]*Resource
}

// New returns an unattached global advertising iface up to version.
func New(iface string, version uint32, handler Handler) *Global {
	return &Global{
		iface:     iface,
		version:   version,
		handler:   handler,
		resources: make(map[ObjectID]*Resource),
	}
}

func (g *Global) Interface() string { return g.iface }
func (g *Global) Version() uint32   { return g.version }

// Attached reports whether the global is currently registered on a display.
func (g *Global) Attached() bool {
	return g.display != nil && !g.detached
}

// Attach registers the global on d. A global attaches once; a second Attach,
// or a second global for the same interface, fails with AlreadyRegistered.
func (g *Global) Attach(d *Display) (Handle, error) {
	if g.detached {
		return Handle{}, fault.New(fault.DisplayTornDown, fault.ErrTornDown, g.iface)
	}
	if g.display != nil {
		return Handle{}, fault.New(fault.AlreadyRegistered, fault.ErrRegistered, g.iface)
	}
	if err := d.register(g); err != nil {
		d.log.Warn("attach rejected", "interface", g.iface, "err", err)
		return Handle{}, err
	}
	g.display = d
	d.log.Info("global attached", "interface", g.iface, "version", g.version, "name", g.name)
	return Handle{Name: g.name, Interface: g.iface}, nil
}

// Bind creates a resource for c at the requested version and acknowledges
// it to the client.
func (g *Global) Bind(c *Client, version uint32) (*Resource, error) {
	if !g.Attached() || g.display.tornDown {
		return nil, fault.New(fault.DisplayTornDown, fault.ErrTornDown, g.iface)
	}
	if version == 0 || version > g.version {
		err := fault.New(fault.VersionUnsupported, fault.ErrVersion, g.iface)
		g.display.log.Warn("bind rejected", "interface", g.iface, "requested", version, "max", g.version, "client", c.ID)
		return nil, err
	}
	if !c.Connected() {
		return nil, fault.New(fault.NotFound, fault.ErrUnknownObject, string(c.ID))
	}

	r := &Resource{
		ID:        g.display.NewObjectID(),
		Client:    c.ID,
		Version:   version,
		Interface: g.iface,
		display:   g.display,
	}
	g.resources[r.ID] = r
	g.display.objects[r.ID] = r
	g.display.log.Debug("resource bound", "interface", g.iface, "object", r.ID, "version", version, "client", c.ID)

	// The acknowledgement precedes anything the handler sends on bind.
	r.Send(&wire.Message{Op: wire.OpBound, Object: uint32(r.ID), Interface: g.iface, Version: version})
	if g.handler != nil {
		g.handler.Bound(r)
	}
	return r, nil
}

// Resource looks up a live resource of this global.
func (g *Global) Resource(id ObjectID) (*Resource, bool) {
	r, ok := g.resources[id]
	return r, ok
}

// Resources returns the live resources ordered by object id.
func (g *Global) Resources() []*Resource {
	resources := make([]*Resource, 0, len(g.resources))
	for _, r := range g.resources {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources
}

// Broadcast sends msg to every live resource.
func (g *Global) Broadcast(msg *wire.Message) {
	for _, r := range g.Resources() {
		out := *msg
		out.Object = uint32(r.ID)
		r.Send(&out)
	}
}

// Destroy releases a resource on the client's request. It reports whether the
// resource existed; destroying it again is a no-op.
func (g *Global) Destroy(id ObjectID) bool {
	r, ok := g.resources[id]
	if !ok {
		return false
	}
	g.destroy(r, CauseReleased)
	return true
}

// Detach invalidates every live resource, sending each a de-allocation notice,
// then releases the registration. Detach is idempotent.
func (g *Global) Detach() {
	if g.detached {
		return
	}
	g.detached = true
	if g.display == nil {
		return
	}

	for _, r := range g.Resources() {
		g.destroy(r, CauseDetached)
	}
	g.display.unregister(g)
	g.display.log.Info("global detached", "interface", g.iface, "name", g.name)
}

func (g *Global) destroyClient(id ClientID) {
	for _, r := range g.Resources() {
		if r.Client == id {
			g.destroy(r, CauseDisconnected)
		}
	}
}

func (g *Global) destroy(r *Resource, cause Cause) {
	if g.handler != nil {
		g.handler.Destroyed(r, cause)
	}
	delete(g.resources, r.ID)
	delete(g.display.objects, r.ID)
	r.Send(&wire.Message{Op: wire.OpDelete, Object: uint32(r.ID)})
	g.display.log.Debug("resource destroyed", "interface", g.iface, "object", r.ID, "cause", cause)
}
