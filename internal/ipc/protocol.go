// Package ipc implements the control socket through which compositor policy
// code and the CLI drive a running waypolicy daemon.
package ipc

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/wire"
)

// Status is the decoded reply to a status query.
type Status struct {
	Clients   int
	Globals   []GlobalStatus
	Sessions  []SessionStatus
	Outputs   []OutputStatus
	Virtuals  []VirtualStatus
	Shortcuts []ShortcutStatus
}

type GlobalStatus struct {
	Name      uint32
	Interface string
	Version   uint32
}

type SessionStatus struct {
	User    string
	Path    string
	Enabled bool
}

type OutputStatus struct {
	Name    string
	Primary bool
	Virtual string
}

type VirtualStatus struct {
	Name    string
	Members []string
}

type ShortcutStatus struct {
	Context   uint32
	Key       string
	Exclusive bool
	State     string
}

// Status entries are tagged with the op that manages their kind of object.
const (
	entryGlobal   = wire.OpBind
	entrySession  = wire.OpAddSession
	entryOutput   = wire.OpAddOutput
	entryVirtual  = wire.OpControlCreateVirtual
	entryShortcut = wire.OpRegisterShortcut
)

// NewStatusReply encodes st.
func NewStatusReply(st *Status) *wire.Message {
	msg := &wire.Message{Op: wire.OpStatusReply, Code: uint32(st.Clients)}
	for _, g := range st.Globals {
		msg.Entries = append(msg.Entries, wire.Message{Op: entryGlobal, Object: g.Name, Interface: g.Interface, Version: g.Version})
	}
	for _, s := range st.Sessions {
		msg.Entries = append(msg.Entries, wire.Message{Op: entrySession, Name: s.User, Text: s.Path, Flag: s.Enabled})
	}
	for _, o := range st.Outputs {
		msg.Entries = append(msg.Entries, wire.Message{Op: entryOutput, Name: o.Name, Flag: o.Primary, Key: o.Virtual})
	}
	for _, v := range st.Virtuals {
		msg.Entries = append(msg.Entries, wire.Message{Op: entryVirtual, Name: v.Name, Names: v.Members})
	}
	for _, s := range st.Shortcuts {
		msg.Entries = append(msg.Entries, wire.Message{Op: entryShortcut, Object: s.Context, Key: s.Key, Flag: s.Exclusive, Text: s.State})
	}
	return msg
}

// ParseStatusReply decodes a status reply.
func ParseStatusReply(msg *wire.Message) (*Status, error) {
	if msg.Op != wire.OpStatusReply {
		return nil, fmt.Errorf("unexpected response type: %s", msg.Op)
	}

	st := &Status{Clients: int(msg.Code)}
	for _, e := range msg.Entries {
		switch e.Op {
		case entryGlobal:
			st.Globals = append(st.Globals, GlobalStatus{Name: e.Object, Interface: e.Interface, Version: e.Version})
		case entrySession:
			st.Sessions = append(st.Sessions, SessionStatus{User: e.Name, Path: e.Text, Enabled: e.Flag})
		case entryOutput:
			st.Outputs = append(st.Outputs, OutputStatus{Name: e.Name, Primary: e.Flag, Virtual: e.Key})
		case entryVirtual:
			st.Virtuals = append(st.Virtuals, VirtualStatus{Name: e.Name, Members: e.Names})
		case entryShortcut:
			st.Shortcuts = append(st.Shortcuts, ShortcutStatus{Context: e.Object, Key: e.Key, Exclusive: e.Flag, State: e.Text})
		}
	}
	return st, nil
}

// NewEventMessage encodes a policy event for a watch stream. The subject key
// of the event (user, output or virtual output) travels in Name.
func NewEventMessage(e event.Event) *wire.Message {
	msg := &wire.Message{
		Op:     wire.OpEvent,
		Text:   string(e.Type),
		Object: e.Context,
		Key:    e.Key,
		Code:   uint32(e.Reason),
	}
	switch e.Type {
	case event.SessionReplaced, event.SessionRemoved, event.SessionActivated:
		msg.Name = e.User
	case event.PrimaryChanged:
		msg.Name = e.Output
	case event.VirtualOutputCreated, event.VirtualOutputDestroyed:
		msg.Name = e.Virtual
	}
	return msg
}

// ParseEventMessage decodes a watch stream message.
func ParseEventMessage(msg *wire.Message) (event.Event, error) {
	if msg.Op != wire.OpEvent {
		return event.Event{}, fmt.Errorf("unexpected message type: %s", msg.Op)
	}

	e := event.Event{
		Type:    event.Type(msg.Text),
		Context: msg.Object,
		Key:     msg.Key,
		Reason:  event.Reason(msg.Code),
	}
	switch e.Type {
	case event.SessionReplaced, event.SessionRemoved, event.SessionActivated:
		e.User = msg.Name
	case event.PrimaryChanged:
		e.Output = msg.Name
	case event.VirtualOutputCreated, event.VirtualOutputDestroyed:
		e.Virtual = msg.Name
	}
	return e, nil
}

// NewErrorMessage encodes a failed control request.
func NewErrorMessage(code uint32, text string) *wire.Message {
	return &wire.Message{Op: wire.OpError, Code: code, Text: text}
}

// ServerError is a failure reported by the daemon.
type ServerError struct {
	Code uint32
	Text string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Text)
}

// Is lets callers match the fault kind the daemon reported, as in
// errors.Is(err, fault.NotFound).
func (e *ServerError) Is(target error) bool {
	k, ok := target.(fault.Kind)
	return ok && uint32(k) == e.Code
}
