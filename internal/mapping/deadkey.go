package mapping

import (
	"time"

	"keymapd/internal/action"
	"keymapd/internal/keys"
)

// armedDeadKey is an accent waiting for the next key press.
type armedDeadKey struct {
	key   action.DeadKey
	armed time.Time
}

func (p *Pipeline) armDeadKey(d action.DeadKey, now time.Time) {
	p.dead = &armedDeadKey{key: d, armed: now}
	p.logger.Debug("dead key armed", "accent", d)
}

// composeDeadKey consumes the armed dead key for the press of logical.
// Space yields the accent itself and a letter, plain or shifted, its
// accented form. Anything else, a chord with another modifier, or a press
// after the timeout disarms it and reports false so the key is handled
// normally. Modifier presses never reach here.
func (p *Pipeline) composeDeadKey(now time.Time, logical keys.Code, mods []keys.Code) (rune, bool) {
	d := p.dead
	p.dead = nil
	if now.Sub(d.armed) > p.rules.deadKeyTimeout() {
		p.logger.Debug("dead key expired", "accent", d.key)
		return 0, false
	}
	shift := false
	for _, m := range mods {
		if m != keys.LeftShift && m != keys.RightShift {
			p.logger.Debug("dead key dropped", "accent", d.key, "modifier", m)
			return 0, false
		}
		shift = true
	}
	if logical == keys.Space {
		return d.key.Rune(), true
	}
	base, ok := keys.Letter(logical, shift)
	if !ok {
		p.logger.Debug("dead key dropped", "accent", d.key, "key", logical)
		return 0, false
	}
	r, ok := d.key.Compose(base)
	if !ok {
		p.logger.Debug("dead key dropped", "accent", d.key, "key", logical)
		return 0, false
	}
	p.logger.Debug("dead key composed", "accent", d.key, "rune", string(r))
	return r, true
}
