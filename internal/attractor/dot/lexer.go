package dot

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenSymbol
)

type token struct {
	typ tokenType
	lit string
	pos int
}

// lexer tokenizes the constrained DOT subset this package parses:
// identifiers (bare words and numbers), quoted strings, and the small set
// of structural symbols the grammar needs ({ } [ ] ; , = -> . : - / ").
type lexer struct {
	src []byte
	pos int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.src[l.pos]

	if ch == '"' {
		return l.readString()
	}

	if ch == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
		l.pos += 2
		return token{typ: tokenSymbol, lit: "->", pos: start}, nil
	}

	switch ch {
	case '{', '}', '[', ']', ';', ',', '=', '.', ':', '-', '/':
		l.pos++
		return token{typ: tokenSymbol, lit: string(ch), pos: start}, nil
	}

	if isIdentStart(ch) {
		for l.pos < len(l.src) && isIdentContinue(l.src[l.pos]) {
			l.pos++
		}
		return token{typ: tokenIdent, lit: string(l.src[start:l.pos]), pos: start}, nil
	}

	return token{}, fmt.Errorf("dot lex: unexpected character %q at %d", string(ch), start)
}

func (l *lexer) readString() (token, error) {
	start := l.pos
	l.pos++ // consume opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("dot lex: unterminated string starting at %d", start)
		}
		ch := l.src[l.pos]
		if ch == '"' {
			l.pos++
			return token{typ: tokenString, lit: b.String(), pos: start}, nil
		}
		if ch == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			l.pos++
			continue
		}
		b.WriteByte(ch)
		l.pos++
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func isIdentContinue(ch byte) bool {
	return isIdentStart(ch)
}
