package output

import (
	"sort"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/charmbracelet/log"
)

// VirtualInterface is the protocol global through which clients create and
// observe virtual outputs.
const VirtualInterface = "waypolicy_virtual_output_manager_v1"

// Error codes carried by VirtualError messages.
const (
	// ErrorDestroyed tells a bound client the virtual output is gone.
	ErrorDestroyed uint32 = 1
	// ErrorUnsupportedGeometry is a transient fault the compositor may report.
	ErrorUnsupportedGeometry uint32 = 2
)

// VirtualOutput is a snapshot of a named group of outputs.
type VirtualOutput struct {
	Name    string
	Members []string
	// Bound lists the manager resources attached to this virtual output.
	Bound []global.ObjectID
}

type virtualOutput struct {
	name     string
	members  []string
	serial   uint64
	bindings map[global.ObjectID]struct{}
}

func (v *virtualOutput) snapshot() VirtualOutput {
	s := VirtualOutput{Name: v.name, Members: append([]string(nil), v.members...)}
	for id := range v.bindings {
		s.Bound = append(s.Bound, id)
	}
	sort.Slice(s.Bound, func(i, j int) bool { return s.Bound[i] < s.Bound[j] })
	return s
}

// Compositor groups registry outputs into virtual outputs. Membership is
// exclusive: an output belongs to at most one virtual output. It is not safe
// for concurrent use.
type Compositor struct {
	registry *Registry
	virtuals map[string]*virtualOutput
	serial   uint64

	bus    *event.Bus[event.Event]
	global *global.Global
	log    *log.Logger
}

// NewCompositor returns a compositor over registry. The registry calls back
// into it when a member output is unregistered.
func NewCompositor(registry *Registry, bus *event.Bus[event.Event]) *Compositor {
	c := &Compositor{
		registry: registry,
		virtuals: make(map[string]*virtualOutput),
		bus:      bus,
		log:      logger.With("virtual"),
	}
	registry.virtual = c
	return c
}

// Attach advertises the virtual output manager global on d.
func (c *Compositor) Attach(d *global.Display, version uint32) (global.Handle, error) {
	c.global = global.New(VirtualInterface, version, c)
	return c.global.Attach(d)
}

// Global returns the virtual output manager global, nil before Attach.
func (c *Compositor) Global() *global.Global {
	return c.global
}

// Handle refers to one incarnation of a virtual output. A handle outlived by
// its virtual output, or by a later virtual output reusing the name, is inert.
type Handle struct {
	c      *Compositor
	name   string
	serial uint64
}

// Name returns the virtual output name.
func (h *Handle) Name() string {
	return h.name
}

// Valid reports whether the virtual output the handle was created for still
// exists.
func (h *Handle) Valid() bool {
	v, ok := h.c.virtuals[h.name]
	return ok && v.serial == h.serial
}

// Destroy tears the virtual output down. Destroying through a stale handle,
// or twice, does nothing.
func (h *Handle) Destroy() {
	if !h.Valid() {
		return
	}
	h.c.destroy(h.c.virtuals[h.name])
}

// Create groups members under name. It fails with DuplicateName if the name is
// taken, UnknownOutput if a member is not registered and AlreadyMember if a
// member belongs to another virtual output. On failure nothing changes.
func (c *Compositor) Create(name string, members []string) (*Handle, error) {
	if name == "" {
		return nil, fault.New(fault.Invalid, fault.ErrEmptyName, "")
	}
	if _, exists := c.virtuals[name]; exists {
		return nil, fault.New(fault.Conflict, fault.ErrDuplicateName, name)
	}
	if len(members) == 0 {
		return nil, fault.New(fault.Conflict, fault.ErrEmptyGroup, name)
	}

	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup {
			return nil, fault.New(fault.Conflict, fault.ErrDuplicateMember, m)
		}
		seen[m] = struct{}{}

		o, ok := c.registry.outputs[m]
		if !ok {
			return nil, fault.New(fault.NotFound, fault.ErrUnknownOutput, m)
		}
		if o.Virtual != "" {
			return nil, fault.New(fault.Conflict, fault.ErrAlreadyMember, m)
		}
	}

	c.serial++
	v := &virtualOutput{
		name:     name,
		members:  append([]string(nil), members...),
		serial:   c.serial,
		bindings: make(map[global.ObjectID]struct{}),
	}
	for _, m := range members {
		c.registry.outputs[m].Virtual = name
	}
	c.virtuals[name] = v

	c.log.Info("virtual output created", "name", name, "members", members)
	c.bus.Publish(event.Event{Type: event.VirtualOutputCreated, Virtual: name})
	return &Handle{c: c, name: name, serial: v.serial}, nil
}

// Bind attaches a manager resource to the named virtual output so it receives
// membership updates, errors and teardown. The current membership is sent
// immediately.
func (c *Compositor) Bind(name string, id global.ObjectID) error {
	v, ok := c.virtuals[name]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownVirtual, name)
	}
	res, ok := c.resource(id)
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownObject, "")
	}
	v.bindings[id] = struct{}{}
	res.Send(membership(res.ID, v))
	return nil
}

// Destroy tears down the named virtual output: bound clients get a teardown
// error first, then the members are released and the name becomes free.
func (c *Compositor) Destroy(name string) error {
	v, ok := c.virtuals[name]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownVirtual, name)
	}
	c.destroy(v)
	return nil
}

// SendError reports a transient fault to the clients bound to name without
// destroying it.
func (c *Compositor) SendError(name string, code uint32, message string) error {
	v, ok := c.virtuals[name]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownVirtual, name)
	}
	c.log.Warn("virtual output error", "name", name, "code", code, "message", message)
	c.sendBound(v, func(id global.ObjectID) *wire.Message {
		return &wire.Message{Op: wire.OpVirtualError, Object: uint32(id), Name: name, Code: code, Text: message}
	})
	return nil
}

// Lookup returns a snapshot of the named virtual output.
func (c *Compositor) Lookup(name string) (VirtualOutput, bool) {
	v, ok := c.virtuals[name]
	if !ok {
		return VirtualOutput{}, false
	}
	return v.snapshot(), true
}

// List returns every virtual output ordered by name.
func (c *Compositor) List() []VirtualOutput {
	names := make([]string, 0, len(c.virtuals))
	for name := range c.virtuals {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]VirtualOutput, 0, len(names))
	for _, name := range names {
		list = append(list, c.virtuals[name].snapshot())
	}
	return list
}

func (c *Compositor) destroy(v *virtualOutput) {
	c.sendBound(v, func(id global.ObjectID) *wire.Message {
		return &wire.Message{Op: wire.OpVirtualError, Object: uint32(id), Name: v.name, Code: ErrorDestroyed, Text: "virtual output destroyed"}
	})
	v.bindings = nil

	for _, m := range v.members {
		if o, ok := c.registry.outputs[m]; ok && o.Virtual == v.name {
			o.Virtual = ""
		}
	}
	delete(c.virtuals, v.name)

	c.log.Info("virtual output destroyed", "name", v.name)
	c.bus.Publish(event.Event{Type: event.VirtualOutputDestroyed, Virtual: v.name})
}

// removeMember drops an output that is being unregistered and tells bound
// clients the new membership.
func (c *Compositor) removeMember(name, output string) {
	v, ok := c.virtuals[name]
	if !ok {
		return
	}
	for i, m := range v.members {
		if m == output {
			v.members = append(v.members[:i], v.members[i+1:]...)
			break
		}
	}
	if o, ok := c.registry.outputs[output]; ok {
		o.Virtual = ""
	}
	c.log.Info("output left virtual output", "name", name, "output", output)
	c.sendBound(v, func(id global.ObjectID) *wire.Message {
		return membership(id, v)
	})
}

func (c *Compositor) sendBound(v *virtualOutput, build func(global.ObjectID) *wire.Message) {
	ids := make([]global.ObjectID, 0, len(v.bindings))
	for id := range v.bindings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if res, ok := c.resource(id); ok {
			res.Send(build(id))
		}
	}
}

func (c *Compositor) resource(id global.ObjectID) (*global.Resource, bool) {
	if c.global == nil {
		return nil, false
	}
	return c.global.Resource(id)
}

func membership(id global.ObjectID, v *virtualOutput) *wire.Message {
	return &wire.Message{Op: wire.OpVirtualOutputs, Object: uint32(id), Name: v.name, Names: append([]string(nil), v.members...)}
}

func (c *Compositor) Bound(res *global.Resource) {}

// Destroyed detaches a manager resource from every virtual output it was
// bound to.
func (c *Compositor) Destroyed(res *global.Resource, cause global.Cause) {
	for _, v := range c.virtuals {
		delete(v.bindings, res.ID)
	}
}
