package event

import "fmt"

// Type names a policy notification stream.
type Type string

const (
	SessionReplaced        Type = "session_replaced"
	SessionRemoved         Type = "session_removed"
	SessionActivated       Type = "session_activated"
	PrimaryChanged         Type = "primary_changed"
	VirtualOutputCreated   Type = "virtual_output_created"
	VirtualOutputDestroyed Type = "virtual_output_destroyed"
	ShortcutGranted        Type = "shortcut_granted"
	ShortcutDenied         Type = "shortcut_denied"
	ShortcutReleased       Type = "shortcut_released"
)

// Types lists every stream in a stable order.
var Types = []Type{
	SessionReplaced,
	SessionRemoved,
	SessionActivated,
	PrimaryChanged,
	VirtualOutputCreated,
	VirtualOutputDestroyed,
	ShortcutGranted,
	ShortcutDenied,
	ShortcutReleased,
}

// Reason explains why a shortcut context left or never reached Granted.
type Reason uint32

const (
	ReasonNone Reason = iota
	// ReasonPreempted: an exclusive request for the same key took the slot.
	ReasonPreempted
	// ReasonConflict: the slot was held and the request could not preempt it.
	ReasonConflict
	// ReasonReleased: the owner released the context.
	ReasonReleased
	// ReasonDestroyed: the context or its owning resource went away.
	ReasonDestroyed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPreempted:
		return "preempted"
	case ReasonConflict:
		return "conflict"
	case ReasonReleased:
		return "released"
	case ReasonDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

// Event is one notification. Only the keys relevant to Type are set.
type Event struct {
	Type Type
	// User is the session key for Session* events.
	User string
	// Output is the output name for PrimaryChanged; empty means no primary.
	Output string
	// Virtual is the virtual output name for VirtualOutput* events.
	Virtual string
	// Context is the shortcut context handle for Shortcut* events.
	Context uint32
	// Key is the canonical key combination of the shortcut context.
	Key    string
	Reason Reason
}

func (e Event) String() string {
	switch e.Type {
	case SessionReplaced, SessionRemoved, SessionActivated:
		return fmt.Sprintf("%s user=%s", e.Type, e.User)
	case PrimaryChanged:
		if e.Output == "" {
			return fmt.Sprintf("%s output=<none>", e.Type)
		}
		return fmt.Sprintf("%s output=%s", e.Type, e.Output)
	case VirtualOutputCreated, VirtualOutputDestroyed:
		return fmt.Sprintf("%s virtual=%s", e.Type, e.Virtual)
	case ShortcutGranted:
		return fmt.Sprintf("%s context=%d key=%s", e.Type, e.Context, e.Key)
	case ShortcutDenied, ShortcutReleased:
		return fmt.Sprintf("%s context=%d key=%s reason=%s", e.Type, e.Context, e.Key, e.Reason)
	default:
		return string(e.Type)
	}
}

// Queue buffers events emitted during one operation so they are published
// only after the operation has left state consistent.
type Queue struct {
	events []Event
}

func (q *Queue) Add(ev Event) {
	q.events = append(q.events, ev)
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Flush publishes the buffered events in order and empties the queue.
func (q *Queue) Flush(bus *Bus[Event]) {
	events := q.events
	q.events = nil
	bus.Publish(events...)
}
