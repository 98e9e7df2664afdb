package condition

import (
	"fmt"
	"strings"
)

type fieldKind int

const (
	fieldWindowClass fieldKind = iota
	fieldWindowName
	fieldDeviceName
	fieldKeyboardType
	fieldNumLock
	fieldCapsLock
	fieldSetting
)

type field struct {
	kind    fieldKind
	setting string
}

// forcedNumpad makes numlk hold regardless of the LED state.
const forcedNumpad = "forced_numpad"

func parseField(name string) (field, error) {
	if rest, ok := strings.CutPrefix(name, "settings."); ok {
		if rest == "" {
			return field{}, fmt.Errorf("%w: empty setting name", ErrSyntax)
		}
		return field{kind: fieldSetting, setting: rest}, nil
	}
	switch strings.ToLower(name) {
	case "wm_class", "window_class":
		return field{kind: fieldWindowClass}, nil
	case "wm_name", "window_name":
		return field{kind: fieldWindowName}, nil
	case "device_name", "devn":
		return field{kind: fieldDeviceName}, nil
	case "keyboard_type":
		return field{kind: fieldKeyboardType}, nil
	case "numlk", "numlock":
		return field{kind: fieldNumLock}, nil
	case "capslk", "capslock":
		return field{kind: fieldCapsLock}, nil
	}
	return field{}, fmt.Errorf("%w: unknown field %q", ErrSyntax, name)
}

func (fd field) isBool() bool {
	switch fd.kind {
	case fieldNumLock, fieldCapsLock, fieldSetting:
		return true
	}
	return false
}

func (fd field) truth(f Facts) bool {
	switch fd.kind {
	case fieldNumLock:
		return f.NumLock() || f.Setting(forcedNumpad)
	case fieldCapsLock:
		return f.CapsLock()
	case fieldSetting:
		return f.Setting(fd.setting)
	}
	return false
}

func (fd field) text(f Facts) string {
	switch fd.kind {
	case fieldWindowClass:
		return f.WindowClass()
	case fieldWindowName:
		return f.WindowName()
	case fieldDeviceName:
		return f.DeviceName()
	case fieldKeyboardType:
		return f.KeyboardType()
	}
	return ""
}
