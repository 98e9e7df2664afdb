package mapping

import (
	"keymapd/internal/condition"
	"keymapd/internal/keys"
)

// resolveModmap returns the logical code for raw: the first conditional entry
// whose condition holds and which maps raw wins, then the default table, then
// raw itself.
func (r *Rules) resolveModmap(raw keys.Code, facts condition.Facts) (logical keys.Code, source string) {
	if r == nil {
		return raw, ""
	}
	for _, m := range r.Modmaps {
		to, ok := m.Map[raw]
		if !ok {
			continue
		}
		if m.Condition.Eval(facts) {
			return to, m.Name
		}
	}
	if to, ok := r.ModmapDefault[raw]; ok {
		return to, "default"
	}
	return raw, ""
}
