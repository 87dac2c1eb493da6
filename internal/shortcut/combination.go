package shortcut

import (
	"strings"

	"github.com/bnema/waypolicy/internal/fault"
)

// Modifier masks
const (
	ModCtrl  = 1 << 0
	ModAlt   = 1 << 1
	ModShift = 1 << 2
	ModSuper = 1 << 3
)

var modifierNames = map[string]uint32{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"meta":    ModSuper,
	"logo":    ModSuper,
	"win":     ModSuper,
}

// AnyKey is the wildcard combination.
const AnyKey = "any"

// Combination is a parsed key combination.
type Combination struct {
	Modifiers uint32
	Key       string
	Any       bool
}

// Parse reads combinations like "Ctrl+Alt+T" or "super+return". Modifier
// names are case-insensitive and may come in any order; the result prints in
// canonical order so equal combinations compare equal.
func Parse(s string) (Combination, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, AnyKey) {
		return Combination{Any: true}, nil
	}
	if s == "" {
		return Combination{}, fault.New(fault.Invalid, fault.ErrBadShortcut, s)
	}

	var c Combination
	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Combination{}, fault.New(fault.Invalid, fault.ErrBadShortcut, s)
		}
		if mod, ok := modifierNames[strings.ToLower(part)]; ok {
			if c.Modifiers&mod != 0 {
				return Combination{}, fault.New(fault.Invalid, fault.ErrBadShortcut, s)
			}
			c.Modifiers |= mod
			continue
		}
		if c.Key != "" {
			return Combination{}, fault.New(fault.Invalid, fault.ErrBadShortcut, s)
		}
		c.Key = canonicalKey(part)
	}
	if c.Key == "" {
		return Combination{}, fault.New(fault.Invalid, fault.ErrBadShortcut, s)
	}
	return c, nil
}

func canonicalKey(key string) string {
	if len(key) == 1 {
		return strings.ToUpper(key)
	}
	return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
}

func (c Combination) String() string {
	if c.Any {
		return AnyKey
	}
	var parts []string
	if c.Modifiers&ModCtrl != 0 {
		parts = append(parts, "Ctrl")
	}
	if c.Modifiers&ModAlt != 0 {
		parts = append(parts, "Alt")
	}
	if c.Modifiers&ModShift != 0 {
		parts = append(parts, "Shift")
	}
	if c.Modifiers&ModSuper != 0 {
		parts = append(parts, "Super")
	}
	return strings.Join(append(parts, c.Key), "+")
}
