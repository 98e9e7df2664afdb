// Package condition implements the boolean expression language used to gate
// modmap, multipurpose and keymap entries on the runtime context.
//
// Grammar, lowest precedence first:
//
//	expr    = and { "or" and }
//	and     = unary { "and" unary }
//	unary   = "not" unary | primary
//	primary = "(" expr ")" | "true" | "false" | field [ ("==" | "=~") value ]
//	value   = string | identifier | "true" | "false"
//
// Fields are wm_class (window_class), wm_name (window_name), device_name
// (devn), keyboard_type, numlk (numlock), capslk (capslock) and
// settings.<name>. Patterns after =~ are regular expressions searched
// anywhere in the field; they are compiled once by Parse.
package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("condition syntax error")

// Facts is the read-only view of the runtime context a condition is
// evaluated against.
type Facts interface {
	WindowClass() string
	WindowName() string
	DeviceName() string
	KeyboardType() string
	NumLock() bool
	CapsLock() bool
	Setting(name string) bool
}

// Condition is a parsed, ready to evaluate expression. The zero of *Condition
// (nil) is the absent condition and always holds.
type Condition struct {
	src  string
	root node
}

// Parse compiles src. Any regular expression in src is compiled here.
func Parse(src string) (*Condition, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, t.kind, t.pos)
	}
	return &Condition{src: strings.TrimSpace(src), root: root}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) *Condition {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

// Eval reports whether the condition holds for f. A nil condition holds.
func (c *Condition) Eval(f Facts) bool {
	if c == nil {
		return true
	}
	return c.root.eval(f)
}

// String returns the source text of the condition.
func (c *Condition) String() string {
	if c == nil {
		return "true"
	}
	return c.src
}

type node interface {
	eval(Facts) bool
}

type (
	orNode  struct{ left, right node }
	andNode struct{ left, right node }
	notNode struct{ inner node }
	litNode bool

	// boolField is a bare boolean atom: numlk, capslk or settings.<name>.
	boolField struct{ field field }

	equalNode struct {
		field field
		want  string
	}

	matchNode struct {
		field field
		re    *regexp.Regexp
	}
)

func (n orNode) eval(f Facts) bool  { return n.left.eval(f) || n.right.eval(f) }
func (n andNode) eval(f Facts) bool { return n.left.eval(f) && n.right.eval(f) }
func (n notNode) eval(f Facts) bool { return !n.inner.eval(f) }
func (n litNode) eval(Facts) bool   { return bool(n) }

func (n boolField) eval(f Facts) bool {
	return n.field.truth(f)
}

func (n equalNode) eval(f Facts) bool {
	if n.field.isBool() {
		return n.field.truth(f) == truthy(n.want)
	}
	got := n.field.text(f)
	if n.field.kind == fieldKeyboardType {
		return listContains(n.want, got)
	}
	return strings.EqualFold(got, n.want)
}

func (n matchNode) eval(f Facts) bool {
	if n.field.kind == fieldKeyboardType {
		// Keyboard types are a closed set; a comma list names alternatives.
		got := n.field.text(f)
		if listContains(n.re.String(), got) {
			return true
		}
	}
	return n.re.MatchString(n.field.text(f))
}

func listContains(list, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
