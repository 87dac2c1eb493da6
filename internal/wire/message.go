// Package wire encodes the messages exchanged on session sockets and on the
// control socket. A message is a flat record in protobuf wire format; frames
// are prefixed with a big endian uint32 length.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Op identifies a request or an event.
type Op uint32

// Client requests.
const (
	OpBind Op = iota + 1
	OpDestroy
	OpSetPrimary
	OpCreateVirtual
	OpGetVirtual
	OpRegisterShortcut
	OpReleaseShortcut
)

// Server events.
const (
	OpBound Op = iota + 32
	OpError
	OpDelete
	OpPrimary
	OpVirtualOutputs
	OpVirtualError
	OpShortcutGranted
	OpShortcutDenied
	OpShortcutReleased
	OpShortcutActivated
)

// Control requests and replies.
const (
	OpStatus Op = iota + 64
	OpAddSession
	OpRemoveSession
	OpActivate
	OpAddOutput
	OpRemoveOutput
	OpControlSetPrimary
	OpControlCreateVirtual
	OpDestroyVirtual
	OpControlVirtualError
	OpTriggerShortcut
	OpWatch
	OpOK
	OpStatusReply
	OpEvent
)

var opNames = map[Op]string{
	OpBind:                 "bind",
	OpDestroy:              "destroy",
	OpSetPrimary:           "set_primary",
	OpCreateVirtual:        "create_virtual",
	OpGetVirtual:           "get_virtual",
	OpRegisterShortcut:     "register_shortcut",
	OpReleaseShortcut:      "release_shortcut",
	OpBound:                "bound",
	OpError:                "error",
	OpDelete:               "delete",
	OpPrimary:              "primary",
	OpVirtualOutputs:       "virtual_outputs",
	OpVirtualError:         "virtual_error",
	OpShortcutGranted:      "shortcut_granted",
	OpShortcutDenied:       "shortcut_denied",
	OpShortcutReleased:     "shortcut_released",
	OpShortcutActivated:    "shortcut_activated",
	OpStatus:               "status",
	OpAddSession:           "add_session",
	OpRemoveSession:        "remove_session",
	OpActivate:             "activate",
	OpAddOutput:            "add_output",
	OpRemoveOutput:         "remove_output",
	OpControlSetPrimary:    "control_set_primary",
	OpControlCreateVirtual: "control_create_virtual",
	OpDestroyVirtual:       "destroy_virtual",
	OpControlVirtualError:  "control_virtual_error",
	OpTriggerShortcut:      "trigger_shortcut",
	OpWatch:                "watch",
	OpOK:                   "ok",
	OpStatusReply:          "status_reply",
	OpEvent:                "event",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(op))
}

// Message is the single record type carried by a frame. Which fields are
// meaningful depends on Op.
type Message struct {
	Op        Op
	Object    uint32
	Interface string
	Version   uint32
	Name      string
	Key       string
	Flag      bool
	Code      uint32
	Text      string
	Names     []string
	// Entries carries nested records, e.g. the sessions of a status reply.
	Entries []Message
}

const (
	fieldOp        protowire.Number = 1
	fieldObject    protowire.Number = 2
	fieldInterface protowire.Number = 3
	fieldVersion   protowire.Number = 4
	fieldName      protowire.Number = 5
	fieldKey       protowire.Number = 6
	fieldFlag      protowire.Number = 7
	fieldCode      protowire.Number = 8
	fieldText      protowire.Number = 9
	fieldNames     protowire.Number = 10
	fieldEntries   protowire.Number = 11
)

// Marshal encodes m. Zero fields are omitted.
func Marshal(m *Message) []byte {
	return appendMessage(nil, m)
}

func appendMessage(b []byte, m *Message) []byte {
	b = appendVarint(b, fieldOp, uint64(m.Op))
	b = appendVarint(b, fieldObject, uint64(m.Object))
	b = appendString(b, fieldInterface, m.Interface)
	b = appendVarint(b, fieldVersion, uint64(m.Version))
	b = appendString(b, fieldName, m.Name)
	b = appendString(b, fieldKey, m.Key)
	if m.Flag {
		b = appendVarint(b, fieldFlag, 1)
	}
	b = appendVarint(b, fieldCode, uint64(m.Code))
	b = appendString(b, fieldText, m.Text)
	for _, name := range m.Names {
		b = protowire.AppendTag(b, fieldNames, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for i := range m.Entries {
		b = protowire.AppendTag(b, fieldEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMessage(nil, &m.Entries[i]))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Unmarshal decodes b into m. Unknown fields are skipped.
func Unmarshal(b []byte, m *Message) error {
	*m = Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("failed to read field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			setVarint(m, num, v)

		case typ == protowire.BytesType && isBytesField(num):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := setBytes(m, num, v); err != nil {
				return err
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldOp, fieldObject, fieldVersion, fieldFlag, fieldCode:
		return true
	}
	return false
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldInterface, fieldName, fieldKey, fieldText, fieldNames, fieldEntries:
		return true
	}
	return false
}

func setVarint(m *Message, num protowire.Number, v uint64) {
	switch num {
	case fieldOp:
		m.Op = Op(v)
	case fieldObject:
		m.Object = uint32(v)
	case fieldVersion:
		m.Version = uint32(v)
	case fieldFlag:
		m.Flag = v != 0
	case fieldCode:
		m.Code = uint32(v)
	}
}

func setBytes(m *Message, num protowire.Number, v []byte) error {
	switch num {
	case fieldInterface:
		m.Interface = string(v)
	case fieldName:
		m.Name = string(v)
	case fieldKey:
		m.Key = string(v)
	case fieldText:
		m.Text = string(v)
	case fieldNames:
		m.Names = append(m.Names, string(v))
	case fieldEntries:
		var entry Message
		if err := Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("failed to read entry: %w", err)
		}
		m.Entries = append(m.Entries, entry)
	}
	return nil
}
