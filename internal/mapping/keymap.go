package mapping

import (
	"keymapd/internal/condition"
	"keymapd/internal/keys"
)

// match is a keymap hit.
type match struct {
	keymap  *Keymap
	mapping *Mapping
}

// lookupKeymap scans keymaps in order. Within the first keymap whose
// condition holds and which has a matching combo, the most specific combo
// wins; ties go to the earlier mapping.
func (r *Rules) lookupKeymap(base keys.Code, mods []keys.Code, facts condition.Facts) (match, bool) {
	if r == nil {
		return match{}, false
	}
	for i := range r.Keymaps {
		km := &r.Keymaps[i]
		var best *Mapping
		for j := range km.Mappings {
			m := &km.Mappings[j]
			if m.Combo.Key != base || !m.Combo.Matches(mods) {
				continue
			}
			if best == nil || m.Combo.Specificity() > best.Combo.Specificity() {
				best = m
			}
		}
		if best == nil {
			continue
		}
		// Conditions are only evaluated for keymaps holding a matching combo.
		if !km.Condition.Eval(facts) {
			continue
		}
		return match{keymap: km, mapping: best}, true
	}
	return match{}, false
}
