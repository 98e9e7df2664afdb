package mapping

import (
	"time"

	"keymapd/internal/keys"
)

// tapHold is the single in-flight multipurpose resolution.
type tapHold struct {
	entry    Multipurpose
	raw      keys.Code
	deadline time.Time
	holding  bool
}

// multipurpose runs the tap/hold stage. handled reports that the event was
// consumed here.
func (p *Pipeline) multipurpose(ev keys.Event, logical keys.Code) (handled bool, err error) {
	if p.mp != nil {
		if ev.Code == p.mp.raw {
			return true, p.triggerEvent(ev)
		}
		if ev.Value == keys.Press && !p.mp.holding {
			p.logger.Debug("multipurpose interrupted", "entry", p.mp.entry.Name, "key", ev.Code)
			if err := p.commitHold(); err != nil {
				return true, err
			}
		}
		return false, nil
	}

	if ev.Value != keys.Press {
		return false, nil
	}
	entry, ok := p.findMultipurpose(ev.Code, logical)
	if !ok {
		return false, nil
	}
	p.mp = &tapHold{
		entry:    entry,
		raw:      ev.Code,
		deadline: ev.Time.Add(p.rules.timeout()),
	}
	p.logger.Debug("multipurpose pending", "entry", entry.Name, "deadline", p.mp.deadline)
	return true, nil
}

func (p *Pipeline) findMultipurpose(raw, logical keys.Code) (Multipurpose, bool) {
	if p.rules == nil {
		return Multipurpose{}, false
	}
	for _, m := range p.tracker.Modifiers() {
		if m != raw {
			return Multipurpose{}, false
		}
	}
	for _, entry := range p.rules.Multipurpose {
		if entry.Trigger == logical && entry.Condition.Eval(p.facts) {
			return entry, true
		}
	}
	return Multipurpose{}, false
}

// triggerEvent handles repeats and the release of the trigger key itself.
func (p *Pipeline) triggerEvent(ev keys.Event) error {
	mp := p.mp
	switch ev.Value {
	case keys.Repeat:
		if mp.holding {
			return p.exec.Repeat(mp.entry.Hold)
		}
		p.logger.Debug("multipurpose repeat ignored", "entry", mp.entry.Name)
		return nil
	case keys.Release:
		p.mp = nil
		delete(p.logical, ev.Code)
		if mp.holding {
			p.logger.Debug("multipurpose hold released", "entry", mp.entry.Name)
			if err := p.exec.Release(mp.entry.Hold); err != nil {
				return err
			}
			return p.exec.PhysicalRelease(mp.entry.Hold)
		}
		p.logger.Debug("multipurpose tap", "entry", mp.entry.Name)
		if err := p.exec.Press(mp.entry.Tap); err != nil {
			return err
		}
		return p.exec.Release(mp.entry.Tap)
	}
	return nil
}

func (p *Pipeline) commitHold() error {
	p.mp.holding = true
	p.logger.Debug("multipurpose hold", "entry", p.mp.entry.Name)
	return p.exec.Press(p.mp.entry.Hold)
}

// Cancel drops a pending resolution of trigger raw without typing its tap,
// for a key whose device went away. It reports whether raw was consumed. A
// committed hold is not touched; its release goes through Handle.
func (p *Pipeline) Cancel(raw keys.Code) bool {
	if p.mp == nil || p.mp.raw != raw || p.mp.holding {
		return false
	}
	p.logger.Debug("multipurpose cancelled", "entry", p.mp.entry.Name)
	p.mp = nil
	delete(p.logical, raw)
	return true
}
