// Package keys defines the key vocabulary shared by every stage of keymapd:
// Linux input key codes, their configuration names, event values, modifiers
// and combos.
package keys

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Code is a Linux input event key code (see linux/input-event-codes.h).
type Code uint16

// Value is the value field of an EV_KEY event.
type Value int32

// Key event values.
const (
	Release Value = 0
	Press   Value = 1
	Repeat  Value = 2
)

func (v Value) String() string {
	switch v {
	case Release:
		return "release"
	case Press:
		return "press"
	case Repeat:
		return "repeat"
	default:
		return fmt.Sprintf("value(%d)", int32(v))
	}
}

// IsDown reports whether the value marks the key as held (press or repeat).
func (v Value) IsDown() bool {
	return v == Press || v == Repeat
}

// Frequently referenced key codes.
const (
	Reserved   Code = 0
	Esc        Code = 1
	Backspace  Code = 14
	Tab        Code = 15
	Q          Code = 16
	W          Code = 17
	E          Code = 18
	R          Code = 19
	T          Code = 20
	Y          Code = 21
	U          Code = 22
	Enter      Code = 28
	LeftCtrl   Code = 29
	A          Code = 30
	LeftShift  Code = 42
	Z          Code = 44
	C          Code = 46
	V          Code = 47
	RightShift Code = 54
	LeftAlt    Code = 56
	Space      Code = 57
	CapsLock   Code = 58
	F1         Code = 59
	NumLock    Code = 69
	RightCtrl  Code = 97
	RightAlt   Code = 100
	Left       Code = 105
	Right      Code = 106
	LeftMeta   Code = 125
	RightMeta  Code = 126
	Fn         Code = 0x1d0

	// MaxCode bounds the codes the virtual device advertises.
	MaxCode Code = 0x2ff
)

// ErrUnknownKey is returned when a key name cannot be resolved.
var ErrUnknownKey = errors.New("unknown key")

// names holds the canonical display name of every named code.
var names = map[Code]string{
	0: "RESERVED", 1: "ESC", 2: "1", 3: "2", 4: "3", 5: "4", 6: "5", 7: "6",
	8: "7", 9: "8", 10: "9", 11: "0", 12: "MINUS", 13: "EQUAL", 14: "BACKSPACE",
	15: "TAB", 16: "Q", 17: "W", 18: "E", 19: "R", 20: "T", 21: "Y", 22: "U",
	23: "I", 24: "O", 25: "P", 26: "LEFT_BRACE", 27: "RIGHT_BRACE", 28: "ENTER",
	29: "LEFT_CTRL", 30: "A", 31: "S", 32: "D", 33: "F", 34: "G", 35: "H",
	36: "J", 37: "K", 38: "L", 39: "SEMICOLON", 40: "APOSTROPHE", 41: "GRAVE",
	42: "LEFT_SHIFT", 43: "BACKSLASH", 44: "Z", 45: "X", 46: "C", 47: "V",
	48: "B", 49: "N", 50: "M", 51: "COMMA", 52: "DOT", 53: "SLASH",
	54: "RIGHT_SHIFT", 55: "KPASTERISK", 56: "LEFT_ALT", 57: "SPACE",
	58: "CAPSLOCK", 59: "F1", 60: "F2", 61: "F3", 62: "F4", 63: "F5", 64: "F6",
	65: "F7", 66: "F8", 67: "F9", 68: "F10", 69: "NUMLOCK", 70: "SCROLLLOCK",
	71: "KP7", 72: "KP8", 73: "KP9", 74: "KPMINUS", 75: "KP4", 76: "KP5",
	77: "KP6", 78: "KPPLUS", 79: "KP1", 80: "KP2", 81: "KP3", 82: "KP0",
	83: "KPDOT", 85: "ZENKAKUHANKAKU", 86: "102ND", 87: "F11", 88: "F12",
	89: "RO", 90: "KATAKANA", 91: "HIRAGANA", 92: "HENKAN",
	93: "KATAKANAHIRAGANA", 94: "MUHENKAN", 95: "KPJPCOMMA", 96: "KPENTER",
	97: "RIGHT_CTRL", 98: "KPSLASH", 99: "SYSRQ", 100: "RIGHT_ALT",
	101: "LINEFEED", 102: "HOME", 103: "UP", 104: "PAGE_UP", 105: "LEFT",
	106: "RIGHT", 107: "END", 108: "DOWN", 109: "PAGE_DOWN", 110: "INSERT",
	111: "DELETE", 112: "MACRO", 113: "MUTE", 114: "VOLUMEDOWN",
	115: "VOLUMEUP", 116: "POWER", 117: "KPEQUAL", 118: "KPPLUSMINUS",
	119: "PAUSE", 120: "SCALE", 121: "KPCOMMA", 122: "HANGEUL", 123: "HANJA",
	124: "YEN", 125: "LEFT_META", 126: "RIGHT_META", 127: "COMPOSE",
	128: "STOP", 129: "AGAIN", 130: "PROPS", 131: "UNDO", 132: "FRONT",
	133: "COPY", 134: "OPEN", 135: "PASTE", 136: "FIND", 137: "CUT",
	138: "HELP", 139: "MENU", 140: "CALC", 141: "SETUP", 142: "SLEEP",
	143: "WAKEUP", 144: "FILE", 145: "SENDFILE", 146: "DELETEFILE",
	147: "XFER", 148: "PROG1", 149: "PROG2", 150: "WWW", 151: "MSDOS",
	152: "COFFEE", 153: "DIRECTION", 154: "CYCLEWINDOWS", 155: "MAIL",
	156: "BOOKMARKS", 157: "COMPUTER", 158: "BACK", 159: "FORWARD",
	160: "CLOSECD", 161: "EJECTCD", 162: "EJECTCLOSECD", 163: "NEXTSONG",
	164: "PLAYPAUSE", 165: "PREVIOUSSONG", 166: "STOPCD", 167: "RECORD",
	168: "REWIND", 169: "PHONE", 170: "ISO", 171: "CONFIG", 172: "HOMEPAGE",
	173: "REFRESH", 174: "EXIT", 175: "MOVE", 176: "EDIT", 177: "SCROLLUP",
	178: "SCROLLDOWN", 179: "KPLEFTPAREN", 180: "KPRIGHTPAREN", 181: "NEW",
	182: "REDO", 183: "F13", 184: "F14", 185: "F15", 186: "F16", 187: "F17",
	188: "F18", 189: "F19", 190: "F20", 191: "F21", 192: "F22", 193: "F23",
	194: "F24", 200: "PLAYCD", 201: "PAUSECD", 202: "PROG3", 203: "PROG4",
	204: "DASHBOARD", 205: "SUSPEND", 206: "CLOSE", 207: "PLAY",
	208: "FASTFORWARD", 209: "BASSBOOST", 210: "PRINT", 211: "HP",
	212: "CAMERA", 213: "SOUND", 214: "QUESTION", 215: "EMAIL", 216: "CHAT",
	217: "SEARCH", 218: "CONNECT", 219: "FINANCE", 220: "SPORT", 221: "SHOP",
	222: "ALTERASE", 223: "CANCEL", 224: "BRIGHTNESSDOWN",
	225: "BRIGHTNESSUP", 226: "MEDIA", 227: "SWITCHVIDEOMODE",
	228: "KBDILLUMTOGGLE", 229: "KBDILLUMDOWN", 230: "KBDILLUMUP",
	231: "SEND", 232: "REPLY", 233: "FORWARDMAIL", 234: "SAVE",
	235: "DOCUMENTS", 236: "BATTERY", 237: "BLUETOOTH", 238: "WLAN",
	239: "UWB", 240: "UNKNOWN", 241: "VIDEO_NEXT", 242: "VIDEO_PREV",
	243: "BRIGHTNESS_CYCLE", 244: "BRIGHTNESS_AUTO", 245: "DISPLAY_OFF",
	246: "WWAN", 247: "RFKILL", 248: "MICMUTE", 0x1d0: "FN",
}

// aliases maps additional spellings (already normalized) to codes.
var aliases = map[string]Code{
	"ESCAPE":      Esc,
	"RETURN":      Enter,
	"DEL":         111,
	"INS":         110,
	"PGUP":        104,
	"PGDN":        109,
	"CAPS":        CapsLock,
	"SCROLL":      70,
	"PRTSC":       99,
	"PRINTSCREEN": 99,
	"BRACELEFT":   26,
	"BRACERIGHT":  27,
	"PERIOD":      52,
	"QUOTE":       40,
	"BACKTICK":    41,
}

// byName is the reverse of names, keyed by normalized name.
var byName = func() map[string]Code {
	m := make(map[string]Code, len(names)+len(aliases))
	for code, name := range names {
		m[normalize(name)] = code
	}
	for name, code := range aliases {
		m[normalize(name)] = code
	}
	return m
}()

// normalize folds a key name to the lookup form: upper case, without the
// evdev "KEY_" prefix and without underscores, so "left_ctrl", "LEFT_CTRL",
// "leftctrl" and "KEY_LEFTCTRL" all resolve alike.
func normalize(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if rest, ok := strings.CutPrefix(n, "KEY_"); ok && rest != "" {
		n = rest
	}
	return strings.ReplaceAll(n, "_", "")
}

// String returns the canonical name of the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%#x", uint16(c))
}

// IsModifier reports whether the code is one of the modifier keys.
func (c Code) IsModifier() bool {
	_, ok := ModifierForKey(c)
	return ok
}

// Lookup resolves a configuration key name to a code. Names are matched
// case-insensitively; single printable ASCII characters resolve through the
// US layout table, and modifier aliases resolve to their primary key.
func Lookup(name string) (Code, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownKey)
	}
	if code, ok := byName[normalize(trimmed)]; ok {
		return code, nil
	}
	if utf8.RuneCountInString(trimmed) == 1 {
		r, _ := utf8.DecodeRuneInString(trimmed)
		if stroke, ok := ASCII(r); ok && !stroke.Shift {
			return stroke.Code, nil
		}
	}
	if m, err := ParseModifier(trimmed); err == nil {
		return m.Key(), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Code {
	code, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return code
}

// Named returns every code that has a canonical name, for advertising on the
// virtual output device.
func Named() []Code {
	codes := make([]Code, 0, len(names))
	for code := range names {
		if code != Reserved {
			codes = append(codes, code)
		}
	}
	return codes
}
