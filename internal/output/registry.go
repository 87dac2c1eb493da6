// Package output tracks physical outputs, which of them is primary, and how
// they are grouped into virtual outputs.
package output

import (
	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/charmbracelet/log"
)

// ManagerInterface is the protocol global through which clients observe and
// request the primary output.
const ManagerInterface = "waypolicy_output_manager_v1"

// Output is a physical output.
type Output struct {
	Name    string
	Primary bool
	// Virtual names the virtual output this output belongs to, if any.
	Virtual string
}

// Registry owns the outputs and the primary slot. It is not safe for
// concurrent use.
type Registry struct {
	outputs map[string]*Output
	order   []string
	primary string

	virtual *Compositor
	bus     *event.Bus[event.Event]
	global  *global.Global
	log     *log.Logger
}

// NewRegistry returns an empty registry publishing on bus.
func NewRegistry(bus *event.Bus[event.Event]) *Registry {
	return &Registry{
		outputs: make(map[string]*Output),
		bus:     bus,
		log:     logger.With("output"),
	}
}

// Attach advertises the output manager global on d.
func (r *Registry) Attach(d *global.Display, version uint32) (global.Handle, error) {
	r.global = global.New(ManagerInterface, version, r)
	return r.global.Attach(d)
}

// Global returns the output manager global, nil before Attach.
func (r *Registry) Global() *global.Global {
	return r.global
}

// Register adds an output.
func (r *Registry) Register(name string) error {
	if name == "" {
		return fault.New(fault.Invalid, fault.ErrEmptyName, "")
	}
	if _, exists := r.outputs[name]; exists {
		return fault.New(fault.Conflict, fault.ErrDuplicateName, name)
	}
	r.outputs[name] = &Output{Name: name}
	r.order = append(r.order, name)
	r.log.Info("output registered", "output", name)
	return nil
}

// Unregister removes an output. It leaves its virtual output first; if it was
// primary, the primary slot becomes unset and PrimaryChanged fires with no
// output.
func (r *Registry) Unregister(name string) error {
	o, ok := r.outputs[name]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownOutput, name)
	}

	if o.Virtual != "" && r.virtual != nil {
		r.virtual.removeMember(o.Virtual, name)
	}

	delete(r.outputs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("output unregistered", "output", name)

	if r.primary == name {
		r.primary = ""
		r.announcePrimary()
	}
	return nil
}

// SetPrimary makes name the primary output. Setting the current primary again
// is a no-op and emits nothing.
func (r *Registry) SetPrimary(name string) error {
	o, ok := r.outputs[name]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownOutput, name)
	}
	if r.primary == name {
		return nil
	}

	if prev, ok := r.outputs[r.primary]; ok {
		prev.Primary = false
	}
	o.Primary = true
	r.primary = name

	r.announcePrimary()
	return nil
}

// Primary returns the primary output, if one is set.
func (r *Registry) Primary() (string, bool) {
	return r.primary, r.primary != ""
}

// Lookup returns a copy of the named output.
func (r *Registry) Lookup(name string) (Output, bool) {
	o, ok := r.outputs[name]
	if !ok {
		return Output{}, false
	}
	return *o, true
}

// Outputs returns copies of every output in registration order.
func (r *Registry) Outputs() []Output {
	outputs := make([]Output, 0, len(r.order))
	for _, name := range r.order {
		outputs = append(outputs, *r.outputs[name])
	}
	return outputs
}

func (r *Registry) announcePrimary() {
	if r.primary == "" {
		r.log.Info("primary output cleared")
	} else {
		r.log.Info("primary output changed", "output", r.primary)
	}
	if r.global != nil {
		r.global.Broadcast(&wire.Message{Op: wire.OpPrimary, Name: r.primary})
	}
	r.bus.Publish(event.Event{Type: event.PrimaryChanged, Output: r.primary})
}

// Bound sends the current primary to a newly bound client.
func (r *Registry) Bound(res *global.Resource) {
	res.Send(&wire.Message{Op: wire.OpPrimary, Object: uint32(res.ID), Name: r.primary})
}

func (r *Registry) Destroyed(res *global.Resource, cause global.Cause) {}
