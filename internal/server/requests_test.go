package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/waypolicy/internal/config"
	"github.com/bnema/waypolicy/internal/display"
	"github.com/bnema/waypolicy/internal/event"
	"github.com/bnema/waypolicy/internal/fault"
	"github.com/bnema/waypolicy/internal/global"
	"github.com/bnema/waypolicy/internal/output"
	"github.com/bnema/waypolicy/internal/shortcut"
	"github.com/bnema/waypolicy/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	msgs []*wire.Message
}

func (s *recordSink) Send(msg *wire.Message) {
	s.msgs = append(s.msgs, msg)
}

func (s *recordSink) last() *wire.Message {
	if len(s.msgs) == 0 {
		return nil
	}
	return s.msgs[len(s.msgs)-1]
}

func (s *recordSink) ops() []wire.Op {
	var ops []wire.Op
	for _, m := range s.msgs {
		ops = append(ops, m.Op)
	}
	return ops
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig
	cfg.Server.RuntimeDir = t.TempDir()
	cfg.Outputs = config.OutputsConfig{Names: []string{"HDMI-0", "eDP-1", "DP-2"}, Primary: "eDP-1"}
	cfg.Globals.ShortcutManagerVersion = 2
	return &cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func connectClient(t *testing.T, s *Server, user string) (*global.Client, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	c, err := s.display.Connect(user, sink)
	require.NoError(t, err)
	return c, sink
}

func bind(t *testing.T, s *Server, c *global.Client, sink *recordSink, iface string) uint32 {
	t.Helper()
	require.NoError(t, s.handleRequest(c, &wire.Message{Op: wire.OpBind, Interface: iface, Version: 1}))
	for _, m := range sink.msgs {
		if m.Op == wire.OpBound && m.Interface == iface {
			return m.Object
		}
	}
	t.Fatalf("no bind acknowledgement for %s", iface)
	return 0
}

func TestNew_AppliesConfig(t *testing.T) {
	s := newTestServer(t)

	globals := s.display.Globals()
	require.Len(t, globals, 3)
	assert.Equal(t, output.ManagerInterface, globals[0].Interface)
	assert.Equal(t, output.VirtualInterface, globals[1].Interface)
	assert.Equal(t, shortcut.ManagerInterface, globals[2].Interface)
	assert.Equal(t, uint32(2), globals[2].Version)

	primary, ok := s.outputs.Primary()
	assert.True(t, ok)
	assert.Equal(t, "eDP-1", primary)
	assert.Len(t, s.outputs.Outputs(), 3)
}

func TestNew_RejectsBadPrimary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outputs.Primary = "DP-9"
	_, err := New(cfg)
	assert.True(t, errors.Is(err, fault.NotFound))
}

func TestNew_DiscoversOutputs(t *testing.T) {
	orig := discoverOutputs
	t.Cleanup(func() { discoverOutputs = orig })
	discoverOutputs = func(context.Context) ([]display.Monitor, error) {
		return []display.Monitor{{Name: "eDP-1"}, {Name: "HDMI-A-1"}}, nil
	}

	cfg := testConfig(t)
	cfg.Outputs.Discover = true
	cfg.Outputs.Primary = "HDMI-A-1"
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	var names []string
	for _, o := range s.Outputs().Outputs() {
		names = append(names, o.Name)
	}
	assert.ElementsMatch(t, []string{"HDMI-0", "eDP-1", "DP-2", "HDMI-A-1"}, names)
	primary, ok := s.Outputs().Primary()
	assert.True(t, ok)
	assert.Equal(t, "HDMI-A-1", primary)

	discoverOutputs = func(context.Context) ([]display.Monitor, error) {
		return nil, errors.New("wlr-randr not found")
	}
	_, err = New(cfg)
	assert.ErrorContains(t, err, "failed to discover outputs")
}

func TestRequest_Bind(t *testing.T) {
	s := newTestServer(t)
	c, sink := connectClient(t, s, "alice")

	id := bind(t, s, c, sink, output.ManagerInterface)
	assert.Equal(t, []wire.Op{wire.OpBound, wire.OpPrimary}, sink.ops())
	assert.Equal(t, &wire.Message{Op: wire.OpPrimary, Object: id, Name: "eDP-1"}, sink.last())

	err := s.handleRequest(c, &wire.Message{Op: wire.OpBind, Interface: "wl_nonexistent", Version: 1})
	assert.True(t, errors.Is(err, fault.NotFound))
	assert.True(t, errors.Is(err, fault.ErrUnknownGlobal))

	err = s.handleRequest(c, &wire.Message{Op: wire.OpBind, Interface: shortcut.ManagerInterface, Version: 3})
	assert.True(t, errors.Is(err, fault.VersionUnsupported))
}

func TestRequest_SetPrimary(t *testing.T) {
	s := newTestServer(t)
	a, sinkA := connectClient(t, s, "alice")
	b, sinkB := connectClient(t, s, "bob")
	ida := bind(t, s, a, sinkA, output.ManagerInterface)
	idb := bind(t, s, b, sinkB, output.ManagerInterface)

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpSetPrimary, Object: ida, Name: "HDMI-0"}))
	assert.Equal(t, &wire.Message{Op: wire.OpPrimary, Object: ida, Name: "HDMI-0"}, sinkA.last())
	assert.Equal(t, &wire.Message{Op: wire.OpPrimary, Object: idb, Name: "HDMI-0"}, sinkB.last())

	err := s.handleRequest(a, &wire.Message{Op: wire.OpSetPrimary, Object: ida, Name: "DP-9"})
	assert.True(t, errors.Is(err, fault.ErrUnknownOutput))

	err = s.handleRequest(a, &wire.Message{Op: wire.OpSetPrimary, Object: idb, Name: "DP-2"})
	assert.True(t, errors.Is(err, fault.ErrWrongOwner), "another client's resource")

	sid := bind(t, s, a, sinkA, shortcut.ManagerInterface)
	err = s.handleRequest(a, &wire.Message{Op: wire.OpSetPrimary, Object: sid, Name: "DP-2"})
	assert.True(t, errors.Is(err, fault.ErrWrongManager))

	primary, _ := s.outputs.Primary()
	assert.Equal(t, "HDMI-0", primary)
}

func TestRequest_Virtual(t *testing.T) {
	s := newTestServer(t)
	a, sinkA := connectClient(t, s, "alice")
	b, sinkB := connectClient(t, s, "bob")
	ida := bind(t, s, a, sinkA, output.VirtualInterface)
	idb := bind(t, s, b, sinkB, output.VirtualInterface)

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpCreateVirtual, Object: ida, Name: "wall", Names: []string{"HDMI-0", "DP-2"}}))
	assert.Equal(t, &wire.Message{Op: wire.OpVirtualOutputs, Object: ida, Name: "wall", Names: []string{"HDMI-0", "DP-2"}}, sinkA.last())

	err := s.handleRequest(b, &wire.Message{Op: wire.OpCreateVirtual, Object: idb, Name: "side", Names: []string{"DP-2"}})
	assert.True(t, errors.Is(err, fault.ErrAlreadyMember))

	require.NoError(t, s.handleRequest(b, &wire.Message{Op: wire.OpGetVirtual, Object: idb, Name: "wall"}))
	assert.Equal(t, wire.OpVirtualOutputs, sinkB.last().Op)

	err = s.handleRequest(b, &wire.Message{Op: wire.OpGetVirtual, Object: idb, Name: "nope"})
	assert.True(t, errors.Is(err, fault.ErrUnknownVirtual))

	require.NoError(t, s.virtual.Destroy("wall"))
	assert.Equal(t, output.ErrorDestroyed, sinkA.last().Code)
	assert.Equal(t, output.ErrorDestroyed, sinkB.last().Code)
}

func TestRequest_ShortcutPreemption(t *testing.T) {
	s := newTestServer(t)
	var events []event.Event
	s.bus.Subscribe(func(e event.Event) { events = append(events, e) })

	a, sinkA := connectClient(t, s, "alice")
	b, sinkB := connectClient(t, s, "bob")
	ida := bind(t, s, a, sinkA, shortcut.ManagerInterface)
	idb := bind(t, s, b, sinkB, shortcut.ManagerInterface)

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpRegisterShortcut, Object: ida, Key: "Ctrl+Alt+T", Flag: true}))
	granted := sinkA.last()
	require.Equal(t, wire.OpShortcutGranted, granted.Op)
	ctxA := granted.Object

	require.NoError(t, s.handleRequest(b, &wire.Message{Op: wire.OpRegisterShortcut, Object: idb, Key: "alt+ctrl+t", Flag: true}))
	assert.Equal(t, wire.OpShortcutReleased, sinkA.last().Op)
	assert.Equal(t, uint32(event.ReasonPreempted), sinkA.last().Code)
	assert.Equal(t, wire.OpShortcutGranted, sinkB.last().Op)

	require.Len(t, events, 3)
	assert.Equal(t, event.ShortcutReleased, events[1].Type)
	assert.Equal(t, ctxA, events[1].Context)
	assert.Equal(t, event.ShortcutGranted, events[2].Type)

	// A non-exclusive request against the new holder is denied.
	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpRegisterShortcut, Object: ida, Key: "Ctrl+Alt+T"}))
	assert.Equal(t, wire.OpShortcutDenied, sinkA.last().Op)
	assert.Equal(t, uint32(event.ReasonConflict), sinkA.last().Code)
}

func TestRequest_ShortcutRelease(t *testing.T) {
	s := newTestServer(t)
	a, sinkA := connectClient(t, s, "alice")
	b, sinkB := connectClient(t, s, "bob")
	ida := bind(t, s, a, sinkA, shortcut.ManagerInterface)
	bind(t, s, b, sinkB, shortcut.ManagerInterface)

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpRegisterShortcut, Object: ida, Key: "Super+L", Flag: true}))
	ctx := sinkA.last().Object

	err := s.handleRequest(b, &wire.Message{Op: wire.OpReleaseShortcut, Object: ctx})
	assert.True(t, errors.Is(err, fault.NotFound), "only the owner may release")

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpReleaseShortcut, Object: ctx}))
	assert.Equal(t, wire.OpShortcutReleased, sinkA.last().Op)
	assert.Equal(t, uint32(event.ReasonReleased), sinkA.last().Code)

	n := len(sinkA.msgs)
	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpReleaseShortcut, Object: ctx}))
	assert.Len(t, sinkA.msgs, n, "second release is silent")

	// Destroying the context frees its id.
	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpDestroy, Object: ctx}))
	assert.Equal(t, &wire.Message{Op: wire.OpDelete, Object: ctx}, sinkA.last())
	_, ok := s.shortcuts.Lookup(shortcut.ContextID(ctx))
	assert.False(t, ok)
}

func TestRequest_Destroy(t *testing.T) {
	s := newTestServer(t)
	a, sinkA := connectClient(t, s, "alice")
	b, sinkB := connectClient(t, s, "bob")
	ida := bind(t, s, a, sinkA, shortcut.ManagerInterface)
	idb := bind(t, s, b, sinkB, output.ManagerInterface)

	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpRegisterShortcut, Object: ida, Key: "Ctrl+1", Flag: true}))

	err := s.handleRequest(a, &wire.Message{Op: wire.OpDestroy, Object: idb})
	assert.True(t, errors.Is(err, fault.ErrWrongOwner))

	// Releasing the manager takes its contexts with it.
	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpDestroy, Object: ida}))
	_, held := s.shortcuts.Holder("Ctrl+1")
	assert.False(t, held)
	assert.Equal(t, &wire.Message{Op: wire.OpDelete, Object: ida}, sinkA.last())

	// Destroying it again is a no-op.
	n := len(sinkA.msgs)
	require.NoError(t, s.handleRequest(a, &wire.Message{Op: wire.OpDestroy, Object: ida}))
	assert.Len(t, sinkA.msgs, n)
}

func TestRequest_Unknown(t *testing.T) {
	s := newTestServer(t)
	a, _ := connectClient(t, s, "alice")

	err := s.handleRequest(a, &wire.Message{Op: wire.OpStatus})
	assert.True(t, errors.Is(err, fault.Invalid))
	assert.True(t, errors.Is(err, fault.ErrBadRequest))
}

func TestControl(t *testing.T) {
	s := newTestServer(t)

	reply, err := s.handleControlRequest(&wire.Message{Op: wire.OpAddOutput, Name: "DP-3"})
	require.NoError(t, err)
	assert.Equal(t, wire.OpOK, reply.Op)

	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpAddOutput, Name: "DP-3"})
	assert.True(t, errors.Is(err, fault.ErrDuplicateName))

	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpControlCreateVirtual, Name: "wall", Names: []string{"DP-3", "HDMI-0"}})
	require.NoError(t, err)
	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpControlSetPrimary, Name: "DP-3"})
	require.NoError(t, err)

	st := s.status()
	assert.Equal(t, 0, st.Clients)
	assert.Len(t, st.Globals, 3)
	require.Len(t, st.Outputs, 4)
	assert.Equal(t, "DP-3", st.Outputs[3].Name)
	assert.True(t, st.Outputs[3].Primary)
	assert.Equal(t, "wall", st.Outputs[3].Virtual)
	require.Len(t, st.Virtuals, 1)
	assert.Equal(t, []string{"DP-3", "HDMI-0"}, st.Virtuals[0].Members)

	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpRemoveOutput, Name: "DP-3"})
	require.NoError(t, err)
	_, ok := s.outputs.Primary()
	assert.False(t, ok)

	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpActivate, Name: "nobody"})
	assert.True(t, errors.Is(err, fault.ErrUnknownSession))

	reply, err = s.handleControlRequest(&wire.Message{Op: wire.OpTriggerShortcut, Key: "Ctrl+Q"})
	require.NoError(t, err)
	assert.False(t, reply.Flag)

	_, err = s.handleControlRequest(&wire.Message{Op: wire.OpBind})
	assert.True(t, errors.Is(err, fault.ErrBadRequest))
}

func TestHandleControl_TimeoutLeavesStateUnchanged(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start(context.Background()))

	orig := controlTimeout
	controlTimeout = 20 * time.Millisecond
	t.Cleanup(func() { controlTimeout = orig })

	release := make(chan struct{})
	require.True(t, s.loop.Post(func() { <-release }))

	reply := s.HandleControl(&wire.Message{Op: wire.OpAddOutput, Name: "DP-3"})
	close(release)
	require.Equal(t, wire.OpError, reply.Op)
	assert.Contains(t, reply.Text, "not applied")

	require.NoError(t, s.Do(context.Background(), func() error {
		_, ok := s.outputs.Lookup("DP-3")
		assert.False(t, ok, "a timed out request is never applied")
		return nil
	}))
}
