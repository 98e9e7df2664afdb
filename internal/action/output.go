// Package action models what a mapping produces and executes it against the
// virtual keyboard.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"keymapd/internal/keys"
)

// ErrInvalidOutput wraps every output string parse error.
var ErrInvalidOutput = errors.New("invalid output")

// Kind identifies a sequence step.
type Kind int

const (
	// OutputCombo emits a combo on top of the modifiers already asserted.
	OutputCombo Kind = iota
	// IsolatedCombo releases every asserted modifier around the combo.
	IsolatedCombo
	Delay
	Text
	Unicode
	SetSetting
	Bind
	Ignore
)

var kindNames = [...]string{"combo", "Combo", "Delay", "Text", "Unicode", "SetSetting", "bind", "ignore"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Step is one action step. Only the fields of its Kind are meaningful.
type Step struct {
	Kind    Kind
	Combo   keys.Combo
	Delay   time.Duration
	Text    string
	Rune    rune
	Setting string
	Value   bool
}

func (s Step) String() string {
	switch s.Kind {
	case OutputCombo:
		return s.Combo.String()
	case IsolatedCombo:
		return "Combo(" + s.Combo.String() + ")"
	case Delay:
		return fmt.Sprintf("Delay(%d)", s.Delay.Milliseconds())
	case Text:
		return strconv.Quote(s.Text)
	case Unicode:
		return fmt.Sprintf("U+%04X", s.Rune)
	case SetSetting:
		return fmt.Sprintf("SetSetting(%s=%t)", s.Setting, s.Value)
	default:
		return s.Kind.String()
	}
}

// Hint is a keymap output that changes how following input is handled
// instead of emitting anything itself.
type Hint int

const (
	NoHint Hint = iota
	// EscapeNextKey passes the next key press through untransformed.
	EscapeNextKey
	// EscapeNextCombo passes the next non-modifier press, with its
	// modifiers, through untransformed.
	EscapeNextCombo
)

func (h Hint) String() string {
	switch h {
	case EscapeNextKey:
		return "escape_next_key"
	case EscapeNextCombo:
		return "escape_next_combo"
	default:
		return "none"
	}
}

// Output is the right-hand side of a keymap mapping: either a hint or an
// ordered list of steps.
type Output struct {
	Steps []Step
	Hint  Hint
}

// IsSequence reports whether the output came from a multi-step list.
func (o Output) IsSequence() bool {
	return len(o.Steps) > 1
}

func (o Output) String() string {
	if o.Hint != NoHint {
		return o.Hint.String()
	}
	if len(o.Steps) == 1 {
		return o.Steps[0].String()
	}
	parts := make([]string, len(o.Steps))
	for i, s := range o.Steps {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ComboOutput is a convenience for single combo outputs.
func ComboOutput(c keys.Combo) Output {
	return Output{Steps: []Step{{Kind: OutputCombo, Combo: c}}}
}

// Parse parses a single-string output: Text(...), U+XXXX or Unicode(XXXX), a
// hint name, Combo(...), or a plain combo or key name.
func Parse(s string) (Output, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "escape_next", "escapenext", "escape_next_key":
		return Output{Hint: EscapeNextKey}, nil
	case "escape_next_combo":
		return Output{Hint: EscapeNextCombo}, nil
	}
	step, err := parseStep(trimmed)
	if err != nil {
		return Output{}, err
	}
	return Output{Steps: []Step{step}}, nil
}

// ParseList parses a list output. A one-element list is exactly the bare
// output of its element, so ["Ctrl-c"] behaves like "Ctrl-c" and is not
// isolated.
func ParseList(items []string) (Output, error) {
	switch len(items) {
	case 0:
		return Output{}, fmt.Errorf("%w: empty list", ErrInvalidOutput)
	case 1:
		return Parse(items[0])
	}
	out := Output{Steps: make([]Step, 0, len(items))}
	for i, item := range items {
		step, err := parseStep(strings.TrimSpace(item))
		if err != nil {
			return Output{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

// MustParse is Parse for literals.
func MustParse(s string) Output {
	o, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return o
}

func parseStep(s string) (Step, error) {
	if s == "" {
		return Step{}, fmt.Errorf("%w: empty", ErrInvalidOutput)
	}
	lower := strings.ToLower(s)
	switch lower {
	case "bind", "combo(bind)":
		return Step{Kind: Bind}, nil
	case "ignore", "noop", "no_op":
		return Step{Kind: Ignore}, nil
	}

	if inner, ok := call(s, "delay"); ok {
		ms, err := strconv.ParseUint(strings.TrimSpace(inner), 10, 32)
		if err != nil {
			return Step{}, fmt.Errorf("%w: %q: delay must be milliseconds", ErrInvalidOutput, s)
		}
		return Step{Kind: Delay, Delay: time.Duration(ms) * time.Millisecond}, nil
	}
	if inner, ok := call(s, "setsetting", "set"); ok {
		return parseSetSetting(s, inner)
	}
	if inner, ok := call(s, "text"); ok {
		return Step{Kind: Text, Text: unquote(inner)}, nil
	}
	if r, ok, err := parseUnicode(s); ok {
		if err != nil {
			return Step{}, err
		}
		return Step{Kind: Unicode, Rune: r}, nil
	}
	if inner, ok := call(s, "combo"); ok {
		c, err := keys.ParseCombo(inner)
		if err != nil {
			return Step{}, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
		}
		return Step{Kind: IsolatedCombo, Combo: c}, nil
	}

	c, err := keys.ParseCombo(s)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	return Step{Kind: OutputCombo, Combo: c}, nil
}

// call matches name(inner) case-insensitively for any of names.
func call(s string, names ...string) (string, bool) {
	if !strings.HasSuffix(s, ")") {
		return "", false
	}
	lower := strings.ToLower(s)
	for _, name := range names {
		if strings.HasPrefix(lower, name+"(") {
			return s[len(name)+1 : len(s)-1], true
		}
	}
	return "", false
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseSetSetting(src, inner string) (Step, error) {
	name, raw, ok := strings.Cut(inner, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Step{}, fmt.Errorf("%w: %q: expected name=value", ErrInvalidOutput, src)
	}
	var value bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		value = true
	case "false", "0", "no", "off":
	default:
		return Step{}, fmt.Errorf("%w: %q: value must be a boolean", ErrInvalidOutput, src)
	}
	return Step{Kind: SetSetting, Setting: name, Value: value}, nil
}

// parseUnicode recognizes U+XXXX and Unicode(XXXX). ok reports whether s
// has one of those shapes; err reports a bad code point.
func parseUnicode(s string) (r rune, ok bool, err error) {
	var hex string
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "U+") && len(s) > 2:
		hex = s[2:]
	default:
		inner, isCall := call(s, "unicode")
		if !isCall {
			return 0, false, nil
		}
		hex = strings.TrimSpace(inner)
		hex = strings.TrimPrefix(strings.TrimPrefix(hex, "U+"), "u+")
		hex = strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	}
	v, perr := strconv.ParseUint(hex, 16, 32)
	if perr != nil || !utf8.ValidRune(rune(v)) {
		return 0, true, fmt.Errorf("%w: %q: not a code point", ErrInvalidOutput, s)
	}
	return rune(v), true, nil
}
