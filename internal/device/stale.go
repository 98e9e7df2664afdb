package device

import (
	"time"

	"keymapd/internal/keys"
)

// staleFilter separates events that were already queued in the kernel
// buffer when the device was grabbed from events generated after it.
//
// The buffer is never drained. Every event read after the grab is
// classified instead:
//   - an event timestamped before the grab is stale;
//   - a release or repeat of a key not pressed since the grab is stale too,
//     e.g. the Enter that launched the daemon.
type staleFilter struct {
	grabbedAt time.Time
	down      map[keys.Code]bool
}

func newStaleFilter(grabbedAt time.Time) *staleFilter {
	return &staleFilter{grabbedAt: grabbedAt, down: make(map[keys.Code]bool)}
}

// accept reports whether the event is fresh.
func (f *staleFilter) accept(code keys.Code, v keys.Value, at time.Time) bool {
	if at.Before(f.grabbedAt) {
		return false
	}
	switch v {
	case keys.Press:
		f.down[code] = true
		return true
	case keys.Repeat:
		return f.down[code]
	case keys.Release:
		if !f.down[code] {
			return false
		}
		delete(f.down, code)
		return true
	}
	return false
}
