package action

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"keymapd/internal/keys"
)

// Sink receives key transitions for the virtual keyboard, in order.
type Sink interface {
	Send(code keys.Code, value keys.Value) error
}

// Settings is the store SetSetting steps write to.
type Settings interface {
	SetSetting(name string, value bool)
}

// Pending is a sequence paused at a Delay step. The control loop resumes it
// with Executor.Resume once Wait has elapsed.
type Pending struct {
	Wait     time.Duration
	steps    []Step
	bind     bool
	triggers []keys.Code
}

// Remaining returns the number of steps still to run.
func (p *Pending) Remaining() int { return len(p.steps) }

// Executor runs outputs and keeps the output-side view of which keys are
// down on the virtual keyboard. Not safe for concurrent use.
type Executor struct {
	sink     Sink
	settings Settings
	logger   *slog.Logger

	asserted []keys.Code

	// bound are modifiers pressed by combo steps after a bind marker. They
	// stay down until one of bindBy, the physical modifiers held when the
	// sequence fired, is released.
	bound  []keys.Code
	bindBy []keys.Code
}

// NewExecutor returns an executor writing to sink.
func NewExecutor(sink Sink, settings Settings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sink:     sink,
		settings: settings,
		logger:   logger.With("component", "executor"),
	}
}

// Asserted returns the keys currently down on the virtual keyboard, in press
// order.
func (x *Executor) Asserted() []keys.Code {
	return slices.Clone(x.asserted)
}

// IsAsserted reports whether c is down on the virtual keyboard.
func (x *Executor) IsAsserted(c keys.Code) bool {
	return slices.Contains(x.asserted, c)
}

// Press forwards a key press.
func (x *Executor) Press(c keys.Code) error {
	return x.send(c, keys.Press)
}

// Release forwards a key release. Keys that are not down are not released
// again.
func (x *Executor) Release(c keys.Code) error {
	if !x.IsAsserted(c) {
		return nil
	}
	if i := slices.Index(x.bound, c); i >= 0 {
		x.bound = slices.Delete(x.bound, i, i+1)
	}
	return x.send(c, keys.Release)
}

// Repeat forwards an autorepeat of a key that is down.
func (x *Executor) Repeat(c keys.Code) error {
	if !x.IsAsserted(c) {
		return nil
	}
	return x.sink.Send(c, keys.Repeat)
}

// PhysicalRelease tells the executor a physical key went up, ending any bind
// that key was holding open.
func (x *Executor) PhysicalRelease(c keys.Code) error {
	if len(x.bound) == 0 || !slices.Contains(x.bindBy, c) {
		return nil
	}
	return x.releaseBound()
}

// ReleaseAll lifts every key down on the virtual keyboard, newest first.
func (x *Executor) ReleaseAll() error {
	x.bound, x.bindBy = nil, nil
	for i := len(x.asserted) - 1; i >= 0; i-- {
		if err := x.sink.Send(x.asserted[i], keys.Release); err != nil {
			x.asserted = x.asserted[:i+1]
			return err
		}
	}
	x.asserted = x.asserted[:0]
	return nil
}

// Run executes out. triggers are the physical modifiers held when the
// mapping fired. A non-nil Pending means the output paused at a Delay.
func (x *Executor) Run(out Output, triggers []keys.Code) (*Pending, error) {
	return x.run(out.Steps, false, triggers)
}

// Resume continues a paused sequence.
func (x *Executor) Resume(p *Pending) (*Pending, error) {
	return x.run(p.steps, p.bind, p.triggers)
}

func (x *Executor) run(steps []Step, bind bool, triggers []keys.Code) (*Pending, error) {
	for i, step := range steps {
		x.logger.Debug("step", "step", step.String(), "bind", bind)
		var err error
		switch step.Kind {
		case OutputCombo:
			if bind {
				err = x.comboBound(step.Combo, triggers)
			} else {
				err = x.combo(step.Combo)
			}
		case IsolatedCombo:
			if bind {
				err = x.comboBound(step.Combo, triggers)
			} else {
				err = x.comboIsolated(step.Combo)
			}
		case Delay:
			rest := steps[i+1:]
			if step.Delay <= 0 || len(rest) == 0 {
				continue
			}
			return &Pending{Wait: step.Delay, steps: rest, bind: bind, triggers: triggers}, nil
		case Text:
			err = x.text(step.Text)
		case Unicode:
			err = x.unicode(step.Rune)
		case SetSetting:
			if x.settings != nil {
				x.settings.SetSetting(step.Setting, step.Value)
			}
		case Bind:
			bind = true
		case Ignore:
		default:
			err = fmt.Errorf("unknown step kind %v", step.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step, err)
		}
	}
	if len(x.bound) > 0 && len(x.bindBy) == 0 {
		// Nothing physical to wait for; do not leave modifiers stuck.
		return nil, x.releaseBound()
	}
	return nil, nil
}

func (x *Executor) send(c keys.Code, v keys.Value) error {
	switch v {
	case keys.Press:
		if !slices.Contains(x.asserted, c) {
			x.asserted = append(x.asserted, c)
		}
	case keys.Release:
		if i := slices.Index(x.asserted, c); i >= 0 {
			x.asserted = slices.Delete(x.asserted, i, i+1)
		}
	}
	return x.sink.Send(c, v)
}

func (x *Executor) tap(c keys.Code) error {
	if err := x.send(c, keys.Press); err != nil {
		return err
	}
	return x.send(c, keys.Release)
}

func (x *Executor) pressAll(cs []keys.Code) error {
	for _, c := range cs {
		if err := x.send(c, keys.Press); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) releaseAll(cs []keys.Code) error {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := x.send(cs[i], keys.Release); err != nil {
			return err
		}
	}
	return nil
}

// assertedModifiers returns the modifier keys down on the virtual keyboard.
func (x *Executor) assertedModifiers() []keys.Code {
	var mods []keys.Code
	for _, c := range x.asserted {
		if c.IsModifier() {
			mods = append(mods, c)
		}
	}
	return mods
}

// missing returns the keys to press so that every modifier of c is down.
func missing(c keys.Combo, down []keys.Code) []keys.Code {
	var out []keys.Code
	for _, m := range c.Mods {
		if !slices.ContainsFunc(down, m.Covers) {
			out = append(out, m.Key())
		}
	}
	return out
}

// combo emits c on top of the asserted modifiers: modifiers c does not use
// are lifted, missing ones pressed, and both restored after the tap.
func (x *Executor) combo(c keys.Combo) error {
	down := x.assertedModifiers()
	var lift []keys.Code
	for _, k := range down {
		if !c.Needs(k) {
			lift = append(lift, k)
		}
	}
	press := missing(c, down)

	if err := x.releaseAll(lift); err != nil {
		return err
	}
	if err := x.pressAll(press); err != nil {
		return err
	}
	if err := x.tap(c.Key); err != nil {
		return err
	}
	if err := x.releaseAll(press); err != nil {
		return err
	}
	return x.pressAll(lift)
}

// comboIsolated emits c with no other modifier down, then restores them.
func (x *Executor) comboIsolated(c keys.Combo) error {
	down := x.assertedModifiers()
	if err := x.releaseAll(down); err != nil {
		return err
	}
	press := missing(c, nil)
	if err := x.pressAll(press); err != nil {
		return err
	}
	if err := x.tap(c.Key); err != nil {
		return err
	}
	if err := x.releaseAll(press); err != nil {
		return err
	}
	return x.pressAll(down)
}

// comboBound emits c keeping every asserted modifier down. Modifiers it had
// to press stay down until a trigger modifier is released.
func (x *Executor) comboBound(c keys.Combo, triggers []keys.Code) error {
	press := missing(c, x.assertedModifiers())
	if err := x.pressAll(press); err != nil {
		return err
	}
	x.bound = append(x.bound, press...)
	for _, t := range triggers {
		if t.IsModifier() && !slices.Contains(x.bindBy, t) {
			x.bindBy = append(x.bindBy, t)
		}
	}
	return x.tap(c.Key)
}

func (x *Executor) releaseBound() error {
	bound := x.bound
	x.bound, x.bindBy = nil, nil
	for i := len(bound) - 1; i >= 0; i-- {
		if !x.IsAsserted(bound[i]) {
			continue
		}
		if err := x.send(bound[i], keys.Release); err != nil {
			return err
		}
	}
	return nil
}

// text types s on a US layout with every modifier lifted. Runes without a
// key fall back to Unicode entry.
func (x *Executor) text(s string) error {
	down := x.assertedModifiers()
	if err := x.releaseAll(down); err != nil {
		return err
	}
	for _, r := range s {
		if err := x.typeRune(r); err != nil {
			return err
		}
	}
	return x.pressAll(down)
}

func (x *Executor) typeRune(r rune) error {
	stroke, ok := keys.ASCII(r)
	if !ok {
		return x.unicodeEntry(r)
	}
	if !stroke.Shift {
		return x.tap(stroke.Code)
	}
	if err := x.send(keys.LeftShift, keys.Press); err != nil {
		return err
	}
	if err := x.tap(stroke.Code); err != nil {
		return err
	}
	return x.send(keys.LeftShift, keys.Release)
}

func (x *Executor) unicode(r rune) error {
	down := x.assertedModifiers()
	if err := x.releaseAll(down); err != nil {
		return err
	}
	if err := x.unicodeEntry(r); err != nil {
		return err
	}
	return x.pressAll(down)
}

// unicodeEntry uses the Ctrl+Shift+U input method sequence: the chord, the
// code point as lowercase hex, then Enter.
func (x *Executor) unicodeEntry(r rune) error {
	chord := []keys.Code{keys.LeftCtrl, keys.LeftShift}
	if err := x.pressAll(chord); err != nil {
		return err
	}
	if err := x.tap(keys.U); err != nil {
		return err
	}
	if err := x.releaseAll(chord); err != nil {
		return err
	}
	for _, d := range fmt.Sprintf("%x", r) {
		stroke, _ := keys.ASCII(d)
		if err := x.tap(stroke.Code); err != nil {
			return err
		}
	}
	return x.tap(keys.Enter)
}
