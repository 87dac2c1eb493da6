// Package fault defines the error taxonomy shared by every protocol manager.
//
// A failure is always local to the requested operation: it carries a Kind
// (what class of failure) and a Reason (which specific rule was violated), and
// errors.Is matches either of them.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kind implements error so callers can write
// errors.Is(err, fault.NotFound).
type Kind uint32

const (
	NotFound Kind = iota + 1
	Conflict
	VersionUnsupported
	AlreadyRegistered
	DisplayTornDown
	Invalid
)

func (k Kind) Error() string {
	return k.String()
}

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case VersionUnsupported:
		return "version unsupported"
	case AlreadyRegistered:
		return "already registered"
	case DisplayTornDown:
		return "display torn down"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("fault(%d)", uint32(k))
	}
}

// Misuse reports whether the kind indicates a client or programmer error
// against a protocol global rather than a policy rejection.
func (k Kind) Misuse() bool {
	return k == VersionUnsupported || k == AlreadyRegistered || k == DisplayTornDown
}

// Reasons.
var (
	ErrUnknownSession = errors.New("unknown session")
	ErrUnknownOutput  = errors.New("unknown output")
	ErrUnknownVirtual = errors.New("unknown virtual output")
	ErrUnknownGlobal  = errors.New("unknown interface")
	ErrUnknownObject  = errors.New("unknown object")
	ErrUnknownContext = errors.New("unknown shortcut context")

	ErrDuplicateName   = errors.New("duplicate name")
	ErrDuplicateMember = errors.New("duplicate member")
	ErrAlreadyMember   = errors.New("output already grouped")

	ErrVersion      = errors.New("requested version exceeds advertised version")
	ErrRegistered   = errors.New("interface already registered on display")
	ErrTornDown     = errors.New("global detached or display torn down")
	ErrEmptyName    = errors.New("empty name")
	ErrEmptyGroup   = errors.New("virtual output needs at least one member")
	ErrBadShortcut  = errors.New("malformed key combination")
	ErrWrongOwner   = errors.New("object belongs to another client")
	ErrWrongManager = errors.New("object is not a manager of this interface")
	ErrBadRequest   = errors.New("unknown request")
	ErrBadUser      = errors.New("user id cannot name a socket")
	ErrPathInUse    = errors.New("socket path already in use")
)

// Error is a typed failure.
type Error struct {
	Kind   Kind
	Reason error
	Key    string
}

// New returns a typed failure for key.
func New(kind Kind, reason error, key string) *Error {
	return &Error{Kind: kind, Reason: reason, Key: key}
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %v %q", e.Kind, e.Reason, e.Key)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return k == e.Kind
	}
	return false
}

// KindOf extracts the Kind of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return 0
}
