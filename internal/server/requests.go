package server

import (
	"fmt"

	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/output"
	"github.com/bnema/waypolicy/internal/shortcut"
	"github.com/bnema/waypolicy/internal/wire"
)

// dispatch handles one client request. Failures go back to the client as an
// Error message naming the object the request was sent to. Runs on the loop.
func (s *Server) dispatch(c *clientConn, msg *wire.Message) {
	if c.client == nil || !c.client.Connected() {
		return
	}

	err := s.handleRequest(c.client, msg)
	if err == nil {
		return
	}

	kind := fault.KindOf(err)
	if kind.Misuse() {
		s.log.Warn("request rejected", "op", msg.Op, "object", msg.Object, "client", c.client.ID, "err", err)
	} else {
		s.log.Debug("request failed", "op", msg.Op, "object", msg.Object, "client", c.client.ID, "err", err)
	}
	c.client.Send(&wire.Message{Op: wire.OpError, Object: msg.Object, Code: uint32(kind), Text: err.Error()})
}

func (s *Server) handleRequest(client *global.Client, msg *wire.Message) error {
	switch msg.Op {
	case wire.OpBind:
		g, ok := s.display.Global(msg.Interface)
		if !ok {
			return fault.New(fault.NotFound, fault.ErrUnknownGlobal, msg.Interface)
		}
		_, err := g.Bind(client, msg.Version)
		return err

	case wire.OpDestroy:
		return s.destroyObject(client, global.ObjectID(msg.Object))

	case wire.OpSetPrimary:
		if _, err := s.resource(client, msg.Object, output.ManagerInterface); err != nil {
			return err
		}
		return s.outputs.SetPrimary(msg.Name)

	case wire.OpCreateVirtual:
		res, err := s.resource(client, msg.Object, output.VirtualInterface)
		if err != nil {
			return err
		}
		if _, err := s.virtual.Create(msg.Name, msg.Names); err != nil {
			return err
		}
		return s.virtual.Bind(msg.Name, res.ID)

	case wire.OpGetVirtual:
		res, err := s.resource(client, msg.Object, output.VirtualInterface)
		if err != nil {
			return err
		}
		return s.virtual.Bind(msg.Name, res.ID)

	case wire.OpRegisterShortcut:
		res, err := s.resource(client, msg.Object, shortcut.ManagerInterface)
		if err != nil {
			return err
		}
		_, err = s.shortcuts.Request(res.ID, msg.Key, msg.Flag)
		return err

	case wire.OpReleaseShortcut:
		id := shortcut.ContextID(msg.Object)
		if !s.ownsContext(client, id) {
			return fault.New(fault.NotFound, fault.ErrUnknownContext, fmt.Sprint(msg.Object))
		}
		return s.shortcuts.Release(id)

	default:
		return fault.New(fault.Invalid, fault.ErrBadRequest, msg.Op.String())
	}
}

// resource resolves a request target: it must be a live resource of iface
// owned by client.
func (s *Server) resource(client *global.Client, object uint32, iface string) (*global.Resource, error) {
	res, ok := s.display.Resource(global.ObjectID(object))
	if !ok {
		return nil, fault.New(fault.NotFound, fault.ErrUnknownObject, fmt.Sprint(object))
	}
	if res.Client != client.ID {
		return nil, fault.New(fault.NotFound, fault.ErrWrongOwner, fmt.Sprint(object))
	}
	if res.Interface != iface {
		return nil, fault.New(fault.Invalid, fault.ErrWrongManager, res.Interface)
	}
	return res, nil
}

// destroyObject releases a resource or a shortcut context on the client's
// request. Destroying an object that is already gone is a no-op; one owned
// by another client is not found.
func (s *Server) destroyObject(client *global.Client, id global.ObjectID) error {
	if res, ok := s.display.Resource(id); ok {
		if res.Client != client.ID {
			return fault.New(fault.NotFound, fault.ErrWrongOwner, fmt.Sprint(id))
		}
		if g, ok := s.display.Global(res.Interface); ok {
			g.Destroy(id)
		}
		return nil
	}

	ctx := shortcut.ContextID(id)
	if _, ok := s.shortcuts.Lookup(ctx); ok {
		if !s.ownsContext(client, ctx) {
			return fault.New(fault.NotFound, fault.ErrWrongOwner, fmt.Sprint(id))
		}
		s.shortcuts.Destroy(ctx)
	}
	return nil
}

func (s *Server) ownsContext(client *global.Client, id shortcut.ContextID) bool {
	c, ok := s.shortcuts.Lookup(id)
	if !ok {
		return false
	}
	res, ok := s.display.Resource(c.Owner)
	return ok && res.Client == client.ID
}
