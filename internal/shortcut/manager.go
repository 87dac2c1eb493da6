// Package shortcut arbitrates global key combinations between clients.
//
// Every client request creates a Context. A context starts Pending and moves
// at once to Granted or Denied; a Granted context ends Released. Denied and
// Released are terminal: a client retries by creating a new context. For any
// key combination at most one context is Granted.
package shortcut

import (
	"fmt"
	"sort"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/logger"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/charmbracelet/log"
)

// ManagerInterface is the protocol global through which clients register
// shortcut contexts.
const ManagerInterface = "waypolicy_shortcut_manager_v1"

// State of a shortcut context.
type State int

const (
	Pending State = iota
	Granted
	Denied
	Released
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Denied || s == Released
}

// ContextID addresses a shortcut context. It shares the display's object
// namespace once the manager is attached.
type ContextID uint32

// Context is a snapshot of a shortcut context.
type Context struct {
	ID        ContextID
	Owner     global.ObjectID
	Key       Combination
	Exclusive bool
	State     State
	Reason    event.Reason
}

// Manager owns every shortcut context and the granted slot of each key
// combination. It is not safe for concurrent use.
type Manager struct {
	contexts map[ContextID]*Context
	slots    map[string]ContextID
	nextID   ContextID

	display *global.Display
	global  *global.Global
	bus     *event.Bus[event.Event]
	log     *log.Logger
}

// NewManager returns a manager publishing on bus.
func NewManager(bus *event.Bus[event.Event]) *Manager {
	return &Manager{
		contexts: make(map[ContextID]*Context),
		slots:    make(map[string]ContextID),
		bus:      bus,
		log:      logger.With("shortcut"),
	}
}

// Attach advertises the shortcut manager global on d.
func (m *Manager) Attach(d *global.Display, version uint32) (global.Handle, error) {
	m.global = global.New(ManagerInterface, version, m)
	handle, err := m.global.Attach(d)
	if err != nil {
		return handle, err
	}
	m.display = d
	return handle, nil
}

// Global returns the shortcut manager global, nil before Attach.
func (m *Manager) Global() *global.Global {
	return m.global
}

// Request creates a context for owner, a shortcut manager resource, and
// arbitrates it immediately:
//   - a free slot grants it;
//   - a held slot and an exclusive request preempt the holder, which is
//     released with ReasonPreempted before the new context is granted;
//   - a held slot and a non-exclusive request deny it with ReasonConflict.
func (m *Manager) Request(owner global.ObjectID, key string, exclusive bool) (Context, error) {
	if m.global != nil {
		if _, ok := m.global.Resource(owner); !ok {
			return Context{}, fault.New(fault.NotFound, fault.ErrUnknownObject, fmt.Sprint(owner))
		}
	}
	combo, err := Parse(key)
	if err != nil {
		return Context{}, err
	}

	ctx := &Context{
		ID:        m.newID(),
		Owner:     owner,
		Key:       combo,
		Exclusive: exclusive,
		State:     Pending,
	}
	m.contexts[ctx.ID] = ctx

	var q event.Queue
	defer q.Flush(m.bus)

	slot := combo.String()
	holderID, held := m.slots[slot]
	switch {
	case !held:
		m.grant(ctx, &q)
	case exclusive:
		m.terminate(m.contexts[holderID], event.ReasonPreempted, &q)
		m.grant(ctx, &q)
	default:
		m.terminate(ctx, event.ReasonConflict, &q)
	}
	return *ctx, nil
}

// Release gives up a granted context. Releasing a context that is already
// Released or Denied does nothing.
func (m *Manager) Release(id ContextID) error {
	ctx, ok := m.contexts[id]
	if !ok {
		return fault.New(fault.NotFound, fault.ErrUnknownContext, fmt.Sprint(id))
	}

	var q event.Queue
	m.terminate(ctx, event.ReasonReleased, &q)
	q.Flush(m.bus)
	return nil
}

// Destroy removes a context, releasing its slot if it still holds one.
// Destroying an unknown context does nothing and reports false.
func (m *Manager) Destroy(id ContextID) bool {
	ctx, ok := m.contexts[id]
	if !ok {
		return false
	}

	var q event.Queue
	m.destroy(ctx, &q)
	q.Flush(m.bus)
	return true
}

// Trigger delivers a compositor key press to the context holding the
// combination, falling back to the holder of the wildcard. It returns the
// receiving context.
func (m *Manager) Trigger(key string) (ContextID, bool) {
	combo, err := Parse(key)
	if err != nil || combo.Any {
		return 0, false
	}

	id, ok := m.slots[combo.String()]
	if !ok {
		id, ok = m.slots[AnyKey]
	}
	if !ok {
		return 0, false
	}
	ctx := m.contexts[id]
	m.send(ctx, &wire.Message{Op: wire.OpShortcutActivated, Object: uint32(ctx.ID), Key: combo.String()})
	m.log.Debug("shortcut activated", "key", combo, "context", ctx.ID)
	return id, true
}

// Lookup returns a snapshot of a context.
func (m *Manager) Lookup(id ContextID) (Context, bool) {
	ctx, ok := m.contexts[id]
	if !ok {
		return Context{}, false
	}
	return *ctx, true
}

// Owned reports whether id is a context created through the manager
// resource owner.
func (m *Manager) Owned(id ContextID, owner global.ObjectID) bool {
	ctx, ok := m.contexts[id]
	return ok && ctx.Owner == owner
}

// Holder returns the context granted for key.
func (m *Manager) Holder(key string) (ContextID, bool) {
	combo, err := Parse(key)
	if err != nil {
		return 0, false
	}
	id, ok := m.slots[combo.String()]
	return id, ok
}

// Contexts returns snapshots of every live context ordered by id.
func (m *Manager) Contexts() []Context {
	list := make([]Context, 0, len(m.contexts))
	for _, ctx := range m.sorted() {
		list = append(list, *ctx)
	}
	return list
}

func (m *Manager) grant(ctx *Context, q *event.Queue) {
	ctx.State = Granted
	m.slots[ctx.Key.String()] = ctx.ID

	m.log.Info("shortcut granted", "key", ctx.Key, "context", ctx.ID, "exclusive", ctx.Exclusive)
	m.send(ctx, &wire.Message{Op: wire.OpShortcutGranted, Object: uint32(ctx.ID), Key: ctx.Key.String()})
	q.Add(event.Event{Type: event.ShortcutGranted, Context: uint32(ctx.ID), Key: ctx.Key.String()})
}

// terminate is the single exit path of a context: explicit release,
// preemption, conflict and destruction all end here.
func (m *Manager) terminate(ctx *Context, reason event.Reason, q *event.Queue) {
	switch ctx.State {
	case Granted:
		ctx.State = Released
		ctx.Reason = reason
		slot := ctx.Key.String()
		if m.slots[slot] == ctx.ID {
			delete(m.slots, slot)
		}

		m.log.Info("shortcut released", "key", ctx.Key, "context", ctx.ID, "reason", reason)
		m.send(ctx, &wire.Message{Op: wire.OpShortcutReleased, Object: uint32(ctx.ID), Key: slot, Code: uint32(reason)})
		q.Add(event.Event{Type: event.ShortcutReleased, Context: uint32(ctx.ID), Key: slot, Reason: reason})

	case Pending:
		ctx.State = Denied
		ctx.Reason = reason

		m.log.Info("shortcut denied", "key", ctx.Key, "context", ctx.ID, "reason", reason)
		m.send(ctx, &wire.Message{Op: wire.OpShortcutDenied, Object: uint32(ctx.ID), Key: ctx.Key.String(), Code: uint32(reason)})
		q.Add(event.Event{Type: event.ShortcutDenied, Context: uint32(ctx.ID), Key: ctx.Key.String(), Reason: reason})
	}
}

func (m *Manager) destroy(ctx *Context, q *event.Queue) {
	m.terminate(ctx, event.ReasonDestroyed, q)
	delete(m.contexts, ctx.ID)
	m.send(ctx, &wire.Message{Op: wire.OpDelete, Object: uint32(ctx.ID)})
}

func (m *Manager) send(ctx *Context, msg *wire.Message) {
	if m.global == nil {
		return
	}
	if res, ok := m.global.Resource(ctx.Owner); ok {
		res.Send(msg)
	}
}

func (m *Manager) newID() ContextID {
	if m.display != nil {
		return ContextID(m.display.NewObjectID())
	}
	m.nextID++
	return m.nextID
}

func (m *Manager) sorted() []*Context {
	list := make([]*Context, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		list = append(list, ctx)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (m *Manager) Bound(res *global.Resource) {}

// Destroyed funnels every context of a vanishing manager resource through
// the same exit path as an explicit destroy, so no granted slot survives a
// disconnect.
func (m *Manager) Destroyed(res *global.Resource, cause global.Cause) {
	var q event.Queue
	for _, ctx := range m.sorted() {
		if ctx.Owner == res.ID {
			m.destroy(ctx, &q)
		}
	}
	q.Flush(m.bus)
}
