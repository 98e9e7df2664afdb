// Package device finds, filters, grabs and reads keyboards, and watches
// /dev/input for hotplug.
package device

import (
	"errors"
	"slices"
	"time"

	"keymapd/internal/keys"
)

var (
	// ErrNoKeyboards is returned when no usable keyboard could be opened.
	ErrNoKeyboards = errors.New("no keyboard devices available")
	// ErrNotKeyboard is returned when a device does not look like a keyboard.
	ErrNotKeyboard = errors.New("not a keyboard")
)

// evKey is the EV_KEY event type.
const evKey = 0x01

// Info describes an input device.
type Info struct {
	Path    string      `json:"path"`
	Name    string      `json:"name"`
	Phys    string      `json:"phys,omitempty"`
	Bus     uint16      `json:"bus"`
	Vendor  uint16      `json:"vendor"`
	Product uint16      `json:"product"`
	Keys    []keys.Code `json:"-"`
}

// keyboardKeys must all be present for a device to count as a keyboard.
var keyboardKeys = []keys.Code{keys.Q, keys.W, keys.E, keys.R, keys.T, keys.Y, keys.A, keys.Z, keys.Space}

// IsKeyboard reports whether the device can send the letter keys and space.
// Mice, power buttons and media remotes advertise EV_KEY too, so the event
// type alone is not enough.
func (i Info) IsKeyboard() bool {
	for _, k := range keyboardKeys {
		if !slices.Contains(i.Keys, k) {
			return false
		}
	}
	return true
}

// RawEvent is one input_event as read from the device node.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
	Time  time.Time
}

// Source is an opened input device.
type Source interface {
	Info() Info
	Grab() error
	Ungrab() error
	Read() (RawEvent, error)
	// Locks returns the num lock and caps lock LED state.
	Locks() (numLock, capsLock bool, err error)
	Close() error
}

// Opener opens the device at path.
type Opener func(path string) (Source, error)
