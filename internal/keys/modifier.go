package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Modifier identifies a modifier either generically (Ctrl: either side) or
// by side (LCtrl, RCtrl).
type Modifier uint8

// Modifiers. The generic form covers both physical keys; sided forms cover
// exactly one.
const (
	ModNone Modifier = iota
	ModCtrl
	ModLCtrl
	ModRCtrl
	ModAlt
	ModLAlt
	ModRAlt
	ModShift
	ModLShift
	ModRShift
	ModSuper
	ModLSuper
	ModRSuper
	ModFn
)

// ErrUnknownModifier is returned when a modifier alias cannot be resolved.
var ErrUnknownModifier = errors.New("unknown modifier")

type modifierInfo struct {
	name    string
	keys    []Code
	generic Modifier
	aliases []string
}

var modifiers = map[Modifier]modifierInfo{
	ModCtrl:   {"Ctrl", []Code{LeftCtrl, RightCtrl}, ModCtrl, []string{"Ctrl", "C", "Control"}},
	ModLCtrl:  {"LCtrl", []Code{LeftCtrl}, ModCtrl, []string{"LCtrl", "LC", "LControl"}},
	ModRCtrl:  {"RCtrl", []Code{RightCtrl}, ModCtrl, []string{"RCtrl", "RC", "RControl"}},
	ModAlt:    {"Alt", []Code{LeftAlt, RightAlt}, ModAlt, []string{"Alt", "A", "Opt", "Option"}},
	ModLAlt:   {"LAlt", []Code{LeftAlt}, ModAlt, []string{"LAlt", "LA", "LOpt", "LOption"}},
	ModRAlt:   {"RAlt", []Code{RightAlt}, ModAlt, []string{"RAlt", "RA", "ROpt", "ROption", "AltGr"}},
	ModShift:  {"Shift", []Code{LeftShift, RightShift}, ModShift, []string{"Shift", "S"}},
	ModLShift: {"LShift", []Code{LeftShift}, ModShift, []string{"LShift", "LS"}},
	ModRShift: {"RShift", []Code{RightShift}, ModShift, []string{"RShift", "RS"}},
	ModSuper:  {"Super", []Code{LeftMeta, RightMeta}, ModSuper, []string{"Super", "Win", "Cmd", "Command", "Meta"}},
	ModLSuper: {"LSuper", []Code{LeftMeta}, ModSuper, []string{"LSuper", "LWin", "LCmd", "LCommand", "LMeta"}},
	ModRSuper: {"RSuper", []Code{RightMeta}, ModSuper, []string{"RSuper", "RWin", "RCmd", "RCommand", "RMeta"}},
	ModFn:     {"Fn", []Code{Fn}, ModFn, []string{"Fn"}},
}

var modifierAliases = func() map[string]Modifier {
	m := make(map[string]Modifier)
	for mod, info := range modifiers {
		for _, alias := range info.aliases {
			m[strings.ToUpper(alias)] = mod
		}
	}
	return m
}()

var keyModifiers = map[Code]Modifier{
	LeftCtrl:   ModLCtrl,
	RightCtrl:  ModRCtrl,
	LeftAlt:    ModLAlt,
	RightAlt:   ModRAlt,
	LeftShift:  ModLShift,
	RightShift: ModRShift,
	LeftMeta:   ModLSuper,
	RightMeta:  ModRSuper,
	Fn:         ModFn,
}

// ParseModifier resolves a modifier alias such as "Ctrl", "C", "RAlt" or
// "Cmd". Matching is case-insensitive.
func ParseModifier(alias string) (Modifier, error) {
	if m, ok := modifierAliases[strings.ToUpper(strings.TrimSpace(alias))]; ok {
		return m, nil
	}
	return ModNone, fmt.Errorf("%w: %q", ErrUnknownModifier, alias)
}

// ModifierForKey returns the sided modifier of a physical modifier key.
func ModifierForKey(c Code) (Modifier, bool) {
	m, ok := keyModifiers[c]
	return m, ok
}

func (m Modifier) String() string {
	if info, ok := modifiers[m]; ok {
		return info.name
	}
	return "None"
}

// Keys returns the physical keys the modifier covers.
func (m Modifier) Keys() []Code {
	return modifiers[m].keys
}

// Key returns the key emitted when the modifier has to be pressed on output.
// Generic modifiers press their left key.
func (m Modifier) Key() Code {
	keys := modifiers[m].keys
	if len(keys) == 0 {
		return Reserved
	}
	return keys[0]
}

// Generic returns the side-less form of the modifier.
func (m Modifier) Generic() Modifier {
	return modifiers[m].generic
}

// Specific reports whether the modifier names one side.
func (m Modifier) Specific() bool {
	return len(modifiers[m].keys) == 1
}

// Covers reports whether pressing c satisfies the modifier.
func (m Modifier) Covers(c Code) bool {
	for _, k := range modifiers[m].keys {
		if k == c {
			return true
		}
	}
	return false
}
