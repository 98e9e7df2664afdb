package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokEq
	tokMatch
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokTrue, tokFalse:
		return "boolean"
	case tokAnd:
		return "'and'"
	case tokOr:
		return "'or'"
	case tokNot:
		return "'not'"
	case tokEq:
		return "'=='"
	case tokMatch:
		return "'=~'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	runes := []rune(src)
	var out []token
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case r == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case r == '=':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("%w: dangling '=' at %d", ErrSyntax, i)
			}
			switch runes[i+1] {
			case '=':
				out = append(out, token{tokEq, "==", i})
			case '~':
				out = append(out, token{tokMatch, "=~", i})
			default:
				return nil, fmt.Errorf("%w: unknown operator at %d", ErrSyntax, i)
			}
			i += 2
		case r == '\'' || r == '"':
			start := i
			var b strings.Builder
			i++
			for i < len(runes) && runes[i] != r {
				if runes[i] == '\\' && i+1 < len(runes) && runes[i+1] == r {
					i++
				}
				b.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
			}
			i++
			out = append(out, token{tokString, b.String(), start})
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !strings.ContainsRune("()='\"", runes[i]) {
				i++
			}
			if start == i {
				return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
			}
			word := string(runes[start:i])
			out = append(out, token{keyword(word), word, start})
		}
	}
	return append(out, token{tokEOF, "", len(runes)}), nil
}

func keyword(word string) tokenKind {
	switch strings.ToLower(word) {
	case "and":
		return tokAnd
	case "or":
		return tokOr
	case "not":
		return tokNot
	case "true":
		return tokTrue
	case "false":
		return tokFalse
	default:
		return tokIdent
	}
}
