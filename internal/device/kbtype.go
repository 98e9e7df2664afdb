package device

import (
	"strings"

	"keymapd/internal/state"
)

var vendorTypes = map[uint16]state.KeyboardType{
	0x05ac: state.Mac,
	0x046d: state.Windows,
	0x17ef: state.IBM,
	0x18d1: state.Chromebook,
	0x00f3: state.Chromebook,
}

// namePatterns are checked in order; the first family with a hit wins.
var namePatterns = []struct {
	kind     state.KeyboardType
	patterns []string
}{
	{state.Mac, []string{"apple", "magic keyboard", "macbook", "imac"}},
	{state.Chromebook, []string{"chromebook", "chrome", "cros", "pixelbook", "pixel slate"}},
	{state.IBM, []string{"thinkpad", "trackpoint", "lenovo", "ibm", "compact usb keyboard"}},
	{state.Windows, []string{
		"windows", "microsoft", "logitech", "dell", "hp", "telink",
		"wireless gaming keyboard", "cooler master", "razer", "corsair", "steelseries",
	}},
}

// DetectKeyboardType classifies a keyboard by USB vendor, then by name, then
// by physical path.
func DetectKeyboardType(info Info) state.KeyboardType {
	if t, ok := vendorTypes[info.Vendor]; ok {
		return t
	}
	name := strings.ToLower(info.Name)
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, family := range namePatterns {
		for _, p := range family.patterns {
			if matchesName(name, words, p) {
				return family.kind
			}
		}
	}
	phys := strings.ToLower(info.Phys)
	if strings.Contains(phys, "cros") || strings.Contains(phys, "chrome") {
		return state.Chromebook
	}
	return state.Unknown
}

// matchesName matches multi-word patterns as substrings and single words as
// whole words, so "cros" does not match "Microsoft".
func matchesName(name string, words []string, pattern string) bool {
	if strings.Contains(pattern, " ") {
		return strings.Contains(name, pattern)
	}
	for _, w := range words {
		if w == pattern {
			return true
		}
	}
	return false
}
