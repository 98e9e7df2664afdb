package condition

import (
	"fmt"
	"regexp"
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' at %d, got %s", ErrSyntax, closing.pos, closing.kind)
		}
		return inner, nil
	case tokTrue:
		return litNode(true), nil
	case tokFalse:
		return litNode(false), nil
	case tokIdent:
		return p.parsePredicate(t)
	}
	return nil, fmt.Errorf("%w: unexpected %s at %d", ErrSyntax, t.kind, t.pos)
}

func (p *parser) parsePredicate(name token) (node, error) {
	fd, err := parseField(name.text)
	if err != nil {
		return nil, err
	}

	op := p.peek()
	if op.kind != tokEq && op.kind != tokMatch {
		if !fd.isBool() {
			return nil, fmt.Errorf("%w: field %q needs '==' or '=~'", ErrSyntax, name.text)
		}
		return boolField{fd}, nil
	}
	p.next()

	val := p.next()
	switch val.kind {
	case tokString, tokIdent, tokTrue, tokFalse:
	default:
		return nil, fmt.Errorf("%w: expected value at %d, got %s", ErrSyntax, val.pos, val.kind)
	}

	if op.kind == tokEq {
		return equalNode{field: fd, want: val.text}, nil
	}
	if fd.isBool() {
		return nil, fmt.Errorf("%w: '=~' is not defined for %q", ErrSyntax, name.text)
	}
	re, err := regexp.Compile(val.text)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %w", ErrSyntax, val.text, err)
	}
	return matchNode{field: fd, re: re}, nil
}
