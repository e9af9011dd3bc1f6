package vars

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateCondition evaluates a fully-substituted conditional expression.
// The grammar is deliberately small: comparisons (==, !=, <, <=, >, >=),
// the connectives and/or/not, parentheses, and string/number/bool/None
// literals. Anything else is a hard error.
func EvaluateCondition(expr string) (bool, error) {
	p := &condParser{src: expr}
	p.next()
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", expr, err)
	}
	if p.err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", expr, p.err)
	}
	if p.tok.kind != condEOF {
		return false, fmt.Errorf("invalid condition %q: unexpected %q", expr, p.tok.text)
	}
	return v.truthy(), nil
}

type condValue struct {
	kind string // "str", "num", "bool", "none"
	str  string
	num  float64
	b    bool
}

func (v condValue) truthy() bool {
	switch v.kind {
	case "bool":
		return v.b
	case "num":
		return v.num != 0
	case "str":
		return v.str != ""
	default:
		return false
	}
}

type condTokenKind int

const (
	condEOF condTokenKind = iota
	condIdent
	condNumber
	condString
	condOp
	condLParen
	condRParen
)

type condToken struct {
	kind condTokenKind
	text string
}

type condParser struct {
	src string
	pos int
	tok condToken
	err error
}

func (p *condParser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = condToken{kind: condEOF}
		return
	}

	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = condToken{kind: condLParen, text: "("}
	case c == ')':
		p.pos++
		p.tok = condToken{kind: condRParen, text: ")"}
	case c == '\'' || c == '"':
		quote := c
		var sb strings.Builder
		i := p.pos + 1
		for i < len(p.src) {
			if p.src[i] == '\\' && i+1 < len(p.src) {
				sb.WriteByte(p.src[i+1])
				i += 2
				continue
			}
			if p.src[i] == quote {
				break
			}
			sb.WriteByte(p.src[i])
			i++
		}
		if i >= len(p.src) {
			p.err = fmt.Errorf("unterminated string literal")
			p.tok = condToken{kind: condEOF}
			return
		}
		p.pos = i + 1
		p.tok = condToken{kind: condString, text: sb.String()}
	case c >= '0' && c <= '9' || (c == '-' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9'):
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		p.tok = condToken{kind: condNumber, text: p.src[start:p.pos]}
	case isCondIdentStart(c):
		start := p.pos
		for p.pos < len(p.src) && isCondIdentChar(p.src[p.pos]) {
			p.pos++
		}
		p.tok = condToken{kind: condIdent, text: p.src[start:p.pos]}
	case strings.ContainsRune("=!<>", rune(c)):
		start := p.pos
		p.pos++
		if p.pos < len(p.src) && p.src[p.pos] == '=' {
			p.pos++
		}
		p.tok = condToken{kind: condOp, text: p.src[start:p.pos]}
	default:
		p.err = fmt.Errorf("unexpected character %q", string(c))
		p.tok = condToken{kind: condEOF}
	}
}

func isCondIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isCondIdentChar(c byte) bool {
	return isCondIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *condParser) parseOr() (condValue, error) {
	left, err := p.parseAnd()
	if err != nil {
		return condValue{}, err
	}
	for p.tok.kind == condIdent && strings.EqualFold(p.tok.text, "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return condValue{}, err
		}
		left = condValue{kind: "bool", b: left.truthy() || right.truthy()}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condValue, error) {
	left, err := p.parseNot()
	if err != nil {
		return condValue{}, err
	}
	for p.tok.kind == condIdent && strings.EqualFold(p.tok.text, "and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return condValue{}, err
		}
		left = condValue{kind: "bool", b: left.truthy() && right.truthy()}
	}
	return left, nil
}

func (p *condParser) parseNot() (condValue, error) {
	if p.tok.kind == condIdent && strings.EqualFold(p.tok.text, "not") {
		p.next()
		v, err := p.parseNot()
		if err != nil {
			return condValue{}, err
		}
		return condValue{kind: "bool", b: !v.truthy()}, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (condValue, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return condValue{}, err
	}
	if p.tok.kind != condOp {
		return left, nil
	}
	op := p.tok.text
	p.next()
	right, err := p.parsePrimary()
	if err != nil {
		return condValue{}, err
	}
	return compare(left, right, op)
}

func (p *condParser) parsePrimary() (condValue, error) {
	if p.err != nil {
		return condValue{}, p.err
	}
	switch p.tok.kind {
	case condLParen:
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return condValue{}, err
		}
		if p.tok.kind != condRParen {
			return condValue{}, fmt.Errorf("expected closing parenthesis")
		}
		p.next()
		return v, nil
	case condString:
		v := condValue{kind: "str", str: p.tok.text}
		p.next()
		return v, nil
	case condNumber:
		n, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return condValue{}, fmt.Errorf("invalid number %q", p.tok.text)
		}
		p.next()
		return condValue{kind: "num", num: n}, nil
	case condIdent:
		text := p.tok.text
		switch {
		case strings.EqualFold(text, "true"):
			p.next()
			return condValue{kind: "bool", b: true}, nil
		case strings.EqualFold(text, "false"):
			p.next()
			return condValue{kind: "bool", b: false}, nil
		case text == "None":
			p.next()
			return condValue{kind: "none"}, nil
		default:
			return condValue{}, fmt.Errorf("unexpected identifier %q (unsubstituted variable?)", text)
		}
	default:
		return condValue{}, fmt.Errorf("unexpected token %q", p.tok.text)
	}
}

func compare(left, right condValue, op string) (condValue, error) {
	switch op {
	case "==", "!=":
		eq := valuesEqual(left, right)
		if op == "!=" {
			eq = !eq
		}
		return condValue{kind: "bool", b: eq}, nil
	case "<", "<=", ">", ">=":
		var cmp int
		switch {
		case left.kind == "num" && right.kind == "num":
			switch {
			case left.num < right.num:
				cmp = -1
			case left.num > right.num:
				cmp = 1
			}
		case left.kind == "str" && right.kind == "str":
			cmp = strings.Compare(left.str, right.str)
		default:
			return condValue{}, fmt.Errorf("cannot order %s and %s values", left.kind, right.kind)
		}
		var b bool
		switch op {
		case "<":
			b = cmp < 0
		case "<=":
			b = cmp <= 0
		case ">":
			b = cmp > 0
		case ">=":
			b = cmp >= 0
		}
		return condValue{kind: "bool", b: b}, nil
	default:
		return condValue{}, fmt.Errorf("unsupported operator %q", op)
	}
}

func valuesEqual(left, right condValue) bool {
	if left.kind != right.kind {
		return false
	}
	switch left.kind {
	case "num":
		return left.num == right.num
	case "str":
		return left.str == right.str
	case "bool":
		return left.b == right.b
	default:
		return true
	}
}
