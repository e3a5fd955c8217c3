package renderer

import (
	"strings"

	"github.com/conneroisu/nanorender/internal/errors"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenTag
)

type token struct {
	kind   tokenKind
	value  string // literal text, or the tag body without delimiters
	triple bool
	line   int
	column int
}

// lexer splits a source into text runs and tags. Line and column are 1-based
// and refer to the first byte of the token.
type lexer struct {
	src    string
	pos    int
	line   int
	column int
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src, line: 1, column: 1}
	var tokens []token

	for l.pos < len(l.src) {
		start := strings.Index(l.src[l.pos:], "{{")
		if start < 0 {
			tokens = append(tokens, l.text(len(l.src)))
			break
		}
		if start > 0 {
			tokens = append(tokens, l.text(l.pos+start))
		}

		tag, err := l.tag()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tag)
	}

	return tokens, nil
}

func (l *lexer) text(end int) token {
	t := token{kind: tokenText, value: l.src[l.pos:end], line: l.line, column: l.column}
	l.advance(end)
	return t
}

// tag consumes one tag starting at l.pos. The triple form wins over the
// double form when both could match.
func (l *lexer) tag() (token, error) {
	open, closing := "{{", "}}"
	triple := strings.HasPrefix(l.src[l.pos:], "{{{")
	if triple {
		open, closing = "{{{", "}}}"
	}

	bodyStart := l.pos + len(open)
	end := strings.Index(l.src[bodyStart:], closing)
	if end < 0 {
		return token{}, newParseError(errors.ErrCodeUnterminatedTag,
			"unterminated tag: missing "+closing, l.line, l.column)
	}

	t := token{
		kind:   tokenTag,
		value:  l.src[bodyStart : bodyStart+end],
		triple: triple,
		line:   l.line,
		column: l.column,
	}
	l.advance(bodyStart + end + len(closing))
	return t, nil
}

func (l *lexer) advance(to int) {
	for _, r := range l.src[l.pos:to] {
		if r == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
	}
	l.pos = to
}
