package keys

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidCombo is returned for malformed combo strings.
var ErrInvalidCombo = errors.New("invalid combo")

// Combo is a set of modifiers plus exactly one base key. The modifier slice
// is kept sorted and free of duplicates, so two combos naming the same
// modifiers in a different order compare equal.
type Combo struct {
	Mods []Modifier
	Key  Code
}

// NewCombo builds a combo, normalizing the modifier order.
func NewCombo(key Code, mods ...Modifier) Combo {
	if len(mods) == 0 {
		return Combo{Key: key}
	}
	ms := slices.Clone(mods)
	slices.Sort(ms)
	ms = slices.Compact(ms)
	return Combo{Mods: ms, Key: key}
}

// ParseCombo parses "Ctrl-Shift-a" style strings: zero or more modifier
// aliases and a key name, separated by hyphens. The last element is always the
// key.
func ParseCombo(s string) (Combo, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Combo{}, fmt.Errorf("%w: empty", ErrInvalidCombo)
	}
	if strings.HasSuffix(trimmed, "-") {
		return Combo{}, fmt.Errorf("%w: %q ends with a hyphen", ErrInvalidCombo, s)
	}

	parts := strings.Split(trimmed, "-")
	key, err := Lookup(parts[len(parts)-1])
	if err != nil {
		return Combo{}, fmt.Errorf("%w: %q: %w", ErrInvalidCombo, s, err)
	}

	mods := make([]Modifier, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		m, err := ParseModifier(part)
		if err != nil {
			return Combo{}, fmt.Errorf("%w: %q: %w", ErrInvalidCombo, s, err)
		}
		mods = append(mods, m)
	}
	return NewCombo(key, mods...), nil
}

// MustParseCombo is ParseCombo for literals.
func MustParseCombo(s string) Combo {
	c, err := ParseCombo(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Equal reports whether both combos name the same modifiers and key.
func (c Combo) Equal(o Combo) bool {
	return c.Key == o.Key && slices.Equal(c.Mods, o.Mods)
}

// Matches reports whether the held modifier keys satisfy the combo exactly:
// every combo modifier is covered by a held key and every held key is
// covered by a combo modifier.
func (c Combo) Matches(held []Code) bool {
	for _, m := range c.Mods {
		if !slices.ContainsFunc(held, m.Covers) {
			return false
		}
	}
	for _, k := range held {
		if !slices.ContainsFunc(c.Mods, func(m Modifier) bool { return m.Covers(k) }) {
			return false
		}
	}
	return true
}

// Specificity counts sided modifiers; more specific combos win ties.
func (c Combo) Specificity() int {
	n := 0
	for _, m := range c.Mods {
		if m.Specific() {
			n++
		}
	}
	return n
}

// Needs reports whether the combo requires the held key k, i.e. one of its
// modifiers covers k.
func (c Combo) Needs(k Code) bool {
	return slices.ContainsFunc(c.Mods, func(m Modifier) bool { return m.Covers(k) })
}

func (c Combo) String() string {
	var b strings.Builder
	for _, m := range c.Mods {
		b.WriteString(m.String())
		b.WriteByte('-')
	}
	b.WriteString(c.Key.String())
	return b.String()
}
