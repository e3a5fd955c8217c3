package renderer

import (
	"fmt"
	"strings"

	"github.com/conneroisu/nanorender/internal/errors"
)

const (
	keywordIf      = "#if"
	keywordEach    = "#each"
	keywordElse    = "else"
	keywordEndIf   = "/if"
	keywordEndEach = "/each"
)

// Parse compiles src into a node tree. Every block must be closed by its
// matching closer; nothing is repaired implicitly.
func Parse(src string) (*CompiledTemplate, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	nodes, term, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if term != nil {
		if term.keyword == keywordElse {
			return nil, newParseError(errors.ErrCodeStrayElse,
				"{{else}} outside of a block", term.line, term.column)
		}
		return nil, newParseError(errors.ErrCodeUnmatchedClose,
			fmt.Sprintf("{{%s}} has no matching opening tag", term.keyword), term.line, term.column)
	}

	return &CompiledTemplate{Source: src, Nodes: nodes}, nil
}

// MustParse is like Parse but panics on error. It is meant for templates
// embedded in the binary.
func MustParse(src string) *CompiledTemplate {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	tokens []token
	pos    int
}

// terminator is a tag that ends the current node list: else or a closer.
type terminator struct {
	keyword string
	line    int
	column  int
}

// parseNodes consumes tokens until a terminator or the end of input. The
// terminator is returned to the caller, which decides whether it is legal.
func (p *parser) parseNodes() ([]Node, *terminator, error) {
	nodes := []Node{}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		if tok.kind == tokenText {
			nodes = append(nodes, &TextNode{Value: tok.value})
			continue
		}

		if tok.triple {
			n, err := parseVar(tok)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)
			continue
		}

		body := strings.TrimSpace(tok.value)
		if body == "" {
			return nil, nil, newParseError(errors.ErrCodeEmptyTag, "empty tag", tok.line, tok.column)
		}
		fields := strings.Fields(body)
		keyword := fields[0]

		switch {
		case keyword == keywordIf || keyword == keywordEach:
			n, err := p.parseBlock(tok, keyword, strings.TrimSpace(body[len(keyword):]))
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)

		case keyword == keywordElse || keyword == keywordEndIf || keyword == keywordEndEach:
			if len(fields) > 1 {
				return nil, nil, newParseError(errors.ErrCodeMalformedTag,
					fmt.Sprintf("{{%s}} takes no arguments", keyword), tok.line, tok.column)
			}
			return nodes, &terminator{keyword: keyword, line: tok.line, column: tok.column}, nil

		case strings.HasPrefix(keyword, "#") || strings.HasPrefix(keyword, "/"):
			return nil, nil, newParseError(errors.ErrCodeMalformedTag,
				fmt.Sprintf("unknown block tag %q", keyword), tok.line, tok.column)

		default:
			n, err := parseVar(tok)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)
		}
	}

	return nodes, nil, nil
}

func (p *parser) parseBlock(open token, keyword, path string) (Node, error) {
	if path == "" {
		return nil, newParseError(errors.ErrCodeMissingPath,
			fmt.Sprintf("{{%s}} requires a path", keyword), open.line, open.column)
	}
	if err := validatePath(path, open); err != nil {
		return nil, err
	}

	closer := keywordEndIf
	if keyword == keywordEach {
		closer = keywordEndEach
	}

	body, term, err := p.parseNodes()
	if err != nil {
		return nil, err
	}

	var elseBody []Node
	if term != nil && term.keyword == keywordElse {
		elseBody, term, err = p.parseNodes()
		if err != nil {
			return nil, err
		}
		if term != nil && term.keyword == keywordElse {
			return nil, newParseError(errors.ErrCodeDuplicateElse,
				fmt.Sprintf("duplicate {{else}} in {{%s}} block", keyword), term.line, term.column)
		}
	}

	if term == nil {
		return nil, newParseError(errors.ErrCodeUnterminatedBlock,
			fmt.Sprintf("{{%s %s}} is never closed", keyword, path), open.line, open.column)
	}
	if term.keyword != closer {
		return nil, newParseError(errors.ErrCodeMismatchedClose,
			fmt.Sprintf("{{%s}} cannot close {{%s}} opened at %d:%d", term.keyword, keyword, open.line, open.column),
			term.line, term.column)
	}

	if keyword == keywordIf {
		return &IfNode{Cond: path, Then: body, Else: elseBody, Line: open.line, Column: open.column}, nil
	}
	return &EachNode{List: path, Body: body, Else: elseBody, Line: open.line, Column: open.column}, nil
}

// parseVar parses `path`, `path || 'lit'` and, inside triple braces,
// `safe path`.
func parseVar(tok token) (*VarNode, error) {
	body := strings.TrimSpace(tok.value)
	n := &VarNode{Escape: !tok.triple, Raw: tok.triple, Line: tok.line, Column: tok.column}

	if tok.triple {
		if rest, ok := cutKeyword(body, "safe"); ok {
			n.Safe = true
			body = rest
		}
	}

	if left, right, ok := strings.Cut(body, "||"); ok {
		lit := strings.TrimSpace(right)
		if len(lit) < 2 || (lit[0] != '\'' && lit[0] != '"') || lit[len(lit)-1] != lit[0] {
			return nil, newParseError(errors.ErrCodeBadFallback,
				"fallback must be a quoted literal", tok.line, tok.column)
		}
		value := lit[1 : len(lit)-1]
		n.Fallback = &value
		body = strings.TrimSpace(left)
	}

	if body == "" {
		return nil, newParseError(errors.ErrCodeEmptyTag, "tag has no path", tok.line, tok.column)
	}
	if err := validatePath(body, tok); err != nil {
		return nil, err
	}
	n.Path = body

	return n, nil
}

// cutKeyword strips a leading keyword followed by whitespace.
func cutKeyword(s, keyword string) (string, bool) {
	if !strings.HasPrefix(s, keyword) || len(s) == len(keyword) {
		return s, false
	}
	switch s[len(keyword)] {
	case ' ', '\t', '\n', '\r':
		return strings.TrimSpace(s[len(keyword):]), true
	}
	return s, false
}

func validatePath(path string, tok token) error {
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return newParseError(errors.ErrCodeInvalidPath,
				fmt.Sprintf("invalid path %q: empty segment", path), tok.line, tok.column)
		}
		for _, r := range segment {
			if !isPathRune(r) {
				return newParseError(errors.ErrCodeInvalidPath,
					fmt.Sprintf("invalid path %q: unexpected %q", path, r), tok.line, tok.column)
			}
		}
	}
	return nil
}

func isPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '$', r == '@', r == '-':
		return true
	}
	return false
}
