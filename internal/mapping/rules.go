// Package mapping resolves physical key events into output: modmap first,
// then multipurpose tap/hold, then keymap combos, each gated by conditions.
package mapping

import (
	"time"

	"keymapd/internal/action"
	"keymapd/internal/condition"
	"keymapd/internal/keys"
)

// DefaultMultipurposeTimeout is used when Rules leaves the timeout unset.
const DefaultMultipurposeTimeout = 200 * time.Millisecond

// DefaultDeadKeyTimeout bounds how long an armed dead key stays armed.
const DefaultDeadKeyTimeout = 2 * time.Second

// Rules is the compiled, read-only rule set. Slice order is configuration
// order and decides precedence.
type Rules struct {
	ModmapDefault map[keys.Code]keys.Code
	Modmaps       []Modmap
	Multipurpose  []Multipurpose
	Keymaps       []Keymap

	MultipurposeTimeout time.Duration
	DeadKeyTimeout      time.Duration
}

// Modmap is a conditional key substitution.
type Modmap struct {
	Name      string
	Condition *condition.Condition
	Map       map[keys.Code]keys.Code
}

// Multipurpose makes Trigger type Tap when tapped and act as Hold when held.
type Multipurpose struct {
	Name      string
	Trigger   keys.Code
	Tap       keys.Code
	Hold      keys.Code
	Condition *condition.Condition
}

// Keymap is a named table of combo mappings.
type Keymap struct {
	Name      string
	Condition *condition.Condition
	Mappings  []Mapping
}

// Mapping binds one input combo to an output.
type Mapping struct {
	Combo  keys.Combo
	Output action.Output
}

func (r *Rules) timeout() time.Duration {
	if r == nil || r.MultipurposeTimeout <= 0 {
		return DefaultMultipurposeTimeout
	}
	return r.MultipurposeTimeout
}

func (r *Rules) deadKeyTimeout() time.Duration {
	if r == nil || r.DeadKeyTimeout <= 0 {
		return DefaultDeadKeyTimeout
	}
	return r.DeadKeyTimeout
}
