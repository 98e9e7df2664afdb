package device

import (
	"strings"

	"keymapd/internal/output"
)

// Filter decides which devices are captured.
type Filter struct {
	// Only, when non-empty, lists the device paths or names to capture.
	Only []string
}

// Accept reports whether the device should be grabbed, with a short reason
// for diagnostics.
func (f Filter) Accept(info Info) (bool, string) {
	if strings.HasPrefix(info.Name, output.DeviceName) {
		return false, "own virtual device"
	}
	if len(f.Only) > 0 {
		for _, want := range f.Only {
			want = strings.TrimSpace(want)
			if want == info.Path || strings.EqualFold(want, info.Name) {
				return true, "listed in devices.only"
			}
		}
		return false, "not listed in devices.only"
	}
	if strings.Contains(strings.ToLower(info.Name), "virtual") {
		return false, "virtual device"
	}
	if !info.IsKeyboard() {
		return false, "not a keyboard"
	}
	return true, "keyboard"
}
