// Package keystate tracks which physical keys are held and the lock-key
// state.
package keystate

import (
	"slices"

	"keymapd/internal/keys"
)

// Tracker is the set of physically held keys, in press order, plus the lock
// state. It is not safe for concurrent use; the control loop owns it.
type Tracker struct {
	held    []keys.Code
	devices map[keys.Code]string

	numLock  bool
	capsLock bool
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{devices: make(map[keys.Code]string)}
}

// Update applies ev. Presses add the key (repeats of a held key change
// nothing), releases remove it, and a release of a key that was never seen
// down is ignored. Num lock and caps lock toggle on their press edge. The
// result reports whether the lock state changed.
func (t *Tracker) Update(ev keys.Event) (locksChanged bool) {
	switch ev.Value {
	case keys.Press, keys.Repeat:
		if !t.IsHeld(ev.Code) {
			t.held = append(t.held, ev.Code)
			t.devices[ev.Code] = ev.Device
		}
		if ev.Value != keys.Press {
			return false
		}
		switch ev.Code {
		case keys.NumLock:
			t.numLock = !t.numLock
			return true
		case keys.CapsLock:
			t.capsLock = !t.capsLock
			return true
		}
	case keys.Release:
		if i := slices.Index(t.held, ev.Code); i >= 0 {
			t.held = slices.Delete(t.held, i, i+1)
			delete(t.devices, ev.Code)
		}
	}
	return false
}

// IsHeld reports whether c is physically held.
func (t *Tracker) IsHeld(c keys.Code) bool {
	return slices.Contains(t.held, c)
}

// Held returns the held keys in press order.
func (t *Tracker) Held() []keys.Code {
	return slices.Clone(t.held)
}

// Modifiers returns the held modifier keys in press order.
func (t *Tracker) Modifiers() []keys.Code {
	var mods []keys.Code
	for _, c := range t.held {
		if c.IsModifier() {
			mods = append(mods, c)
		}
	}
	return mods
}

// HeldBy returns the keys currently held on the given device.
func (t *Tracker) HeldBy(device string) []keys.Code {
	var out []keys.Code
	for _, c := range t.held {
		if t.devices[c] == device {
			out = append(out, c)
		}
	}
	return out
}

// Locks returns the num lock and caps lock state.
func (t *Tracker) Locks() (numLock, capsLock bool) {
	return t.numLock, t.capsLock
}

// SetLocks seeds the lock state, e.g. from keyboard LEDs.
func (t *Tracker) SetLocks(numLock, capsLock bool) {
	t.numLock, t.capsLock = numLock, capsLock
}

// Reset forgets every held key. Lock state is kept.
func (t *Tracker) Reset() {
	t.held = t.held[:0]
	clear(t.devices)
}
