package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/ipc"
	"github.com/bnema/waypolicy/internal/wire"
)

// controlTimeout bounds how long a control request waits for the loop. A
// request that times out before reaching the loop is dropped unapplied.
var controlTimeout = 5 * time.Second

// HandleControl executes a control socket request on the dispatch loop.
func (s *Server) HandleControl(msg *wire.Message) *wire.Message {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var reply *wire.Message
	err := s.loop.Do(ctx, func() error {
		var err error
		reply, err = s.handleControlRequest(msg)
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("dispatch loop busy, request not applied: %w", err)
	}
	if err != nil {
		kind := fault.KindOf(err)
		s.log.Debug("control request failed", "op", msg.Op, "err", err)
		return ipc.NewErrorMessage(uint32(kind), err.Error())
	}
	return reply
}

func (s *Server) handleControlRequest(msg *wire.Message) (*wire.Message, error) {
	ok := &wire.Message{Op: wire.OpOK}

	switch msg.Op {
	case wire.OpStatus:
		return ipc.NewStatusReply(s.status()), nil

	case wire.OpAddSession:
		desc, err := s.sessionDescriptor(msg.Name, msg.Text)
		if err != nil {
			return nil, err
		}
		_, err = s.sessions.AddSession(msg.Name, desc)
		return ok, err

	case wire.OpRemoveSession:
		return ok, s.sessions.RemoveSession(msg.Name)

	case wire.OpActivate:
		return ok, s.sessions.Activate(msg.Name)

	case wire.OpAddOutput:
		return ok, s.outputs.Register(msg.Name)

	case wire.OpRemoveOutput:
		return ok, s.outputs.Unregister(msg.Name)

	case wire.OpControlSetPrimary:
		return ok, s.outputs.SetPrimary(msg.Name)

	case wire.OpControlCreateVirtual:
		_, err := s.virtual.Create(msg.Name, msg.Names)
		return ok, err

	case wire.OpDestroyVirtual:
		return ok, s.virtual.Destroy(msg.Name)

	case wire.OpControlVirtualError:
		return ok, s.virtual.SendError(msg.Name, msg.Code, msg.Text)

	case wire.OpTriggerShortcut:
		id, delivered := s.shortcuts.Trigger(msg.Key)
		return &wire.Message{Op: wire.OpOK, Object: uint32(id), Flag: delivered}, nil

	default:
		return nil, fault.New(fault.Invalid, fault.ErrBadRequest, msg.Op.String())
	}
}

// status snapshots the daemon. Runs on the loop.
func (s *Server) status() *ipc.Status {
	st := &ipc.Status{Clients: s.display.Clients()}
	for _, g := range s.display.Globals() {
		st.Globals = append(st.Globals, ipc.GlobalStatus{Name: g.Name, Interface: g.Interface, Version: g.Version})
	}
	for _, info := range s.sessions.Sessions() {
		st.Sessions = append(st.Sessions, ipc.SessionStatus{User: info.User, Path: info.Path, Enabled: info.Enabled})
	}
	for _, o := range s.outputs.Outputs() {
		st.Outputs = append(st.Outputs, ipc.OutputStatus{Name: o.Name, Primary: o.Primary, Virtual: o.Virtual})
	}
	for _, v := range s.virtual.List() {
		st.Virtuals = append(st.Virtuals, ipc.VirtualStatus{Name: v.Name, Members: v.Members})
	}
	for _, c := range s.shortcuts.Contexts() {
		st.Shortcuts = append(st.Shortcuts, ipc.ShortcutStatus{
			Context:   uint32(c.ID),
			Key:       c.Key.String(),
			Exclusive: c.Exclusive,
			State:     c.State.String(),
		})
	}
	return st
}
