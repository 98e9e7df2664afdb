package state

import (
	"fmt"
	"strings"
)

// KeyboardType classifies the physical layout family of the active keyboard.
type KeyboardType int

const (
	Unknown KeyboardType = iota
	Mac
	Windows
	Chromebook
	IBM
)

func (k KeyboardType) String() string {
	switch k {
	case Mac:
		return "Mac"
	case Windows:
		return "Windows"
	case Chromebook:
		return "Chromebook"
	case IBM:
		return "IBM"
	default:
		return "Unknown"
	}
}

// ParseKeyboardType accepts the type names case-insensitively, plus a few
// common spellings ("apple", "pc", "chromeos", "thinkpad").
func ParseKeyboardType(s string) (KeyboardType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mac", "apple", "macos":
		return Mac, nil
	case "windows", "win", "pc":
		return Windows, nil
	case "chromebook", "chromeos", "chrome":
		return Chromebook, nil
	case "ibm", "thinkpad":
		return IBM, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown keyboard type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k KeyboardType) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KeyboardType) UnmarshalText(b []byte) error {
	v, err := ParseKeyboardType(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
