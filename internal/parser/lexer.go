package parser

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenVariable
	tokenSymbol
)

type token struct {
	Type  tokenType
	Text  string // decoded text for strings, raw text otherwise
	Raw   string // raw source slice
	Start int
	End   int
	Line  int
}

// lexer produces tokens over the pipeline source. It is restartable from an
// arbitrary offset so the parser can capture raw SQL spans and resume.
type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) setPos(pos int) {
	if pos < 0 || pos > len(l.src) {
		pos = len(l.src)
	}
	// Recompute the line from scratch; spans are short and this keeps the
	// lexer free of line bookkeeping on every capture.
	l.line = 1 + strings.Count(l.src[:pos], "\n")
	l.pos = pos
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	start := l.pos
	line := l.line

	if l.pos >= len(l.src) {
		return token{Type: tokenEOF, Start: start, End: start, Line: line}, nil
	}

	c := l.src[l.pos]

	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		return token{Type: tokenIdent, Text: text, Raw: text, Start: start, End: l.pos, Line: line}, nil

	case isDigit(c):
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		text := l.src[start:l.pos]
		return token{Type: tokenNumber, Text: text, Raw: text, Start: start, End: l.pos, Line: line}, nil

	case c == '\'' || c == '"':
		value, end, err := scanString(l.src, l.pos)
		if err != nil {
			return token{}, fmt.Errorf("line %d: %w", line, err)
		}
		raw := l.src[start:end]
		l.line += strings.Count(raw, "\n")
		l.pos = end
		return token{Type: tokenString, Text: value, Raw: raw, Start: start, End: end, Line: line}, nil

	case c == '$' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '{':
		depth := 0
		for l.pos < len(l.src) {
			switch l.src[l.pos] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					l.pos++
					raw := l.src[start:l.pos]
					return token{Type: tokenVariable, Text: raw, Raw: raw, Start: start, End: l.pos, Line: line}, nil
				}
			}
			l.pos++
		}
		return token{}, fmt.Errorf("line %d: unterminated variable reference", line)

	default:
		l.pos++
		text := l.src[start:l.pos]
		return token{Type: tokenSymbol, Text: text, Raw: text, Start: start, End: l.pos, Line: line}, nil
	}
}

// scanString consumes a single- or double-quoted string starting at pos.
// Backslash escapes and doubled quotes are honored; the returned value has
// the outer quotes stripped with inner quotes preserved.
func scanString(src string, pos int) (string, int, error) {
	quote := src[pos]
	var sb strings.Builder
	i := pos + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			sb.WriteByte(src[i+1])
			i += 2
		case c == quote && i+1 < len(src) && src[i+1] == quote:
			sb.WriteByte(quote)
			i += 2
		case c == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", i, fmt.Errorf("unterminated string literal")
}

// scanRawUntil returns the raw span from start up to (but excluding) the
// first top-level occurrence of one of the stop words, or the stop symbol
// (usually ";"). Quotes, parentheses, and -- comments are honored. The
// second return value is the offset of the matched terminator and the third
// names which terminator matched.
func scanRawUntil(src string, start int, stopWords []string, stopSymbol byte) (string, int, string, error) {
	depth := 0
	i := start
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			_, end, err := scanString(src, i)
			if err != nil {
				return "", i, "", err
			}
			i = end
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case depth == 0 && c == stopSymbol:
			return strings.TrimSpace(src[start:i]), i, string(stopSymbol), nil
		case depth == 0 && isIdentStart(c):
			j := i
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			word := strings.ToUpper(src[i:j])
			for _, stop := range stopWords {
				if word == stop {
					return strings.TrimSpace(src[start:i]), i, stop, nil
				}
			}
			i = j
		default:
			i++
		}
	}
	if stopSymbol == 0 && len(stopWords) == 0 {
		return strings.TrimSpace(src[start:]), len(src), "", nil
	}
	return "", len(src), "", fmt.Errorf("unexpected end of input")
}

// scanJSONObject returns the raw balanced-brace span starting at the first
// "{" at or after start.
func scanJSONObject(src string, start int) (string, int, error) {
	i := start
	for i < len(src) && src[i] != '{' {
		if !isSpace(src[i]) {
			return "", i, fmt.Errorf("expected JSON object")
		}
		i++
	}
	if i >= len(src) {
		return "", i, fmt.Errorf("expected JSON object")
	}
	depth := 0
	begin := i
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			_, end, err := scanString(src, i)
			if err != nil {
				return "", i, err
			}
			i = end
		case c == '{':
			depth++
			i++
		case c == '}':
			depth--
			i++
			if depth == 0 {
				return src[begin:i], i, nil
			}
		default:
			i++
		}
	}
	return "", i, fmt.Errorf("unterminated JSON object")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
