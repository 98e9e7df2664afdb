package mapping

import (
	"log/slog"
	"slices"
	"time"

	"keymapd/internal/action"
	"keymapd/internal/condition"
	"keymapd/internal/keys"
	"keymapd/internal/keystate"
)

// Pipeline turns physical key events into executor calls. It is driven by
// the control loop and is not safe for concurrent use.
//
// The tracker must already reflect an event when Handle is called with it.
type Pipeline struct {
	rules   *Rules
	facts   condition.Facts
	tracker *keystate.Tracker
	exec    *action.Executor
	logger  *slog.Logger

	// logical remembers the code each held key resolved to at press time so
	// repeats and the release use the same code.
	logical map[keys.Code]keys.Code

	// fired holds raw keys whose press fired a keymap output; their repeats
	// and release are swallowed.
	fired map[keys.Code]bool

	// raw holds keys pressed while escaping; they bypass every stage until
	// released.
	raw map[keys.Code]bool

	mp     *tapHold
	dead   *armedDeadKey
	escape action.Hint
}

// New returns a pipeline over the given rules.
func New(rules *Rules, facts condition.Facts, tracker *keystate.Tracker, exec *action.Executor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rules:   rules,
		facts:   facts,
		tracker: tracker,
		exec:    exec,
		logger:  logger.With("component", "pipeline"),
		logical: make(map[keys.Code]keys.Code),
		fired:   make(map[keys.Code]bool),
		raw:     make(map[keys.Code]bool),
	}
}

// SetRules swaps the rule set. Keys already held keep the logical code and
// state they were pressed with.
func (p *Pipeline) SetRules(rules *Rules) {
	p.rules = rules
}

// Rules returns the active rule set.
func (p *Pipeline) Rules() *Rules {
	return p.rules
}

// Deadline reports when the pending multipurpose resolution times out.
func (p *Pipeline) Deadline() (time.Time, bool) {
	if p.mp == nil || p.mp.holding {
		return time.Time{}, false
	}
	return p.mp.deadline, true
}

// Timeout commits a pending multipurpose key to hold if now is at or past
// its deadline.
func (p *Pipeline) Timeout(now time.Time) error {
	if p.mp == nil || p.mp.holding || now.Before(p.mp.deadline) {
		return nil
	}
	p.logger.Debug("multipurpose timeout", "entry", p.mp.entry.Name)
	return p.commitHold()
}

// Reset drops transient state: pending multipurpose resolution, escapes and
// per-key memory. Used when remapping is suspended.
func (p *Pipeline) Reset() {
	p.mp = nil
	p.dead = nil
	p.escape = action.NoHint
	clear(p.logical)
	clear(p.fired)
	clear(p.raw)
}

// Handle processes one event. A non-nil Pending is a sequence paused at a
// Delay step that the caller must resume later.
func (p *Pipeline) Handle(ev keys.Event) (*action.Pending, error) {
	// An event at or past the deadline is ordered after the timeout.
	if p.mp != nil && !p.mp.holding && !ev.Time.Before(p.mp.deadline) {
		if err := p.Timeout(ev.Time); err != nil {
			return nil, err
		}
	}

	if p.raw[ev.Code] || (ev.Value == keys.Press && p.escape == action.EscapeNextCombo) {
		return nil, p.passRaw(ev)
	}

	logical := p.logicalFor(ev)

	handled, err := p.multipurpose(ev, logical)
	if handled || err != nil {
		return nil, err
	}

	switch ev.Value {
	case keys.Press:
		return p.press(ev, logical)
	case keys.Repeat:
		if p.fired[ev.Code] {
			return nil, nil
		}
		return nil, p.exec.Repeat(logical)
	default:
		return nil, p.release(ev, logical)
	}
}

// logicalFor applies the modmap stage.
func (p *Pipeline) logicalFor(ev keys.Event) keys.Code {
	if ev.Value != keys.Press {
		if logical, ok := p.logical[ev.Code]; ok {
			if ev.Value == keys.Release {
				delete(p.logical, ev.Code)
			}
			return logical
		}
	}
	logical, source := p.rules.resolveModmap(ev.Code, p.facts)
	if source != "" {
		p.logger.Debug("modmap", "key", ev.Code, "logical", logical, "modmap", source)
	}
	if ev.Value != keys.Release {
		p.logical[ev.Code] = logical
	}
	return logical
}

// passRaw forwards ev untouched, for escape_next_combo.
func (p *Pipeline) passRaw(ev keys.Event) error {
	switch ev.Value {
	case keys.Press:
		p.raw[ev.Code] = true
		if !ev.Code.IsModifier() {
			p.escape = action.NoHint
		}
		return p.exec.Press(ev.Code)
	case keys.Repeat:
		return p.exec.Repeat(ev.Code)
	default:
		delete(p.raw, ev.Code)
		if err := p.exec.Release(ev.Code); err != nil {
			return err
		}
		return p.exec.PhysicalRelease(ev.Code)
	}
}

func (p *Pipeline) press(ev keys.Event, logical keys.Code) (*action.Pending, error) {
	if p.escape == action.EscapeNextKey && !logical.IsModifier() {
		p.escape = action.NoHint
		p.logger.Debug("escaped", "key", logical)
		return nil, p.exec.Press(logical)
	}

	phys, logi := p.heldModifiers(ev.Code)
	if p.dead != nil && !logical.IsModifier() {
		if r, ok := p.composeDeadKey(ev.Time, logical, logi); ok {
			p.fired[ev.Code] = true
			return p.exec.Run(action.UnicodeOutput(r), logi)
		}
	}

	m, ok := p.rules.lookupKeymap(logical, phys, p.facts)
	if !ok && !slices.Equal(phys, logi) {
		m, ok = p.rules.lookupKeymap(logical, logi, p.facts)
	}
	if !ok {
		p.logger.Debug("pass through", "key", ev.Code, "logical", logical)
		return nil, p.exec.Press(logical)
	}

	out := m.mapping.Output
	p.logger.Debug("keymap",
		"keymap", m.keymap.Name,
		"combo", m.mapping.Combo.String(),
		"condition", m.keymap.Condition.String(),
		"output", out.String())
	p.fired[ev.Code] = true

	if out.Hint != action.NoHint {
		p.escape = out.Hint
		return nil, nil
	}
	if d, ok := out.DeadKey(); ok {
		p.armDeadKey(d, ev.Time)
		return nil, nil
	}
	return p.exec.Run(out, logi)
}

func (p *Pipeline) release(ev keys.Event, logical keys.Code) error {
	if p.fired[ev.Code] {
		delete(p.fired, ev.Code)
	} else if err := p.exec.Release(logical); err != nil {
		return err
	}
	return p.exec.PhysicalRelease(logical)
}

// heldModifiers returns the held modifiers other than the key being pressed,
// once by physical identity and once after modmap. An asserted multipurpose
// hold key stands in for its trigger in both.
func (p *Pipeline) heldModifiers(except keys.Code) (phys, logi []keys.Code) {
	for _, raw := range p.tracker.Held() {
		if raw == except {
			continue
		}
		if p.mp != nil && raw == p.mp.raw {
			if p.mp.holding && p.mp.entry.Hold.IsModifier() {
				phys = append(phys, p.mp.entry.Hold)
				logi = append(logi, p.mp.entry.Hold)
			}
			continue
		}
		if raw.IsModifier() {
			phys = append(phys, raw)
		}
		if l, ok := p.logical[raw]; ok && l.IsModifier() {
			logi = append(logi, l)
		} else if !ok && raw.IsModifier() {
			logi = append(logi, raw)
		}
	}
	return phys, logi
}
