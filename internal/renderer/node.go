// Package renderer implements the nanorender template language: a lexer and
// recursive-descent parser producing an immutable node tree, a scoped path
// resolver, an evaluator that writes HTML, and an engine that memoizes
// compiled templates by their exact source.
package renderer

import (
	"github.com/conneroisu/nanorender/internal/errors"
)

// Node is one element of a parsed template.
type Node interface {
	node()
}

// TextNode is literal text copied to the output unchanged.
type TextNode struct {
	Value string
}

// VarNode interpolates the value found at Path.
//
// Escape and Raw are mutually exclusive. Safe is only set on raw nodes and
// routes the value through the sanitizer. Fallback is nil when the tag has no
// `|| 'literal'` clause.
type VarNode struct {
	Path     string
	Escape   bool
	Raw      bool
	Safe     bool
	Fallback *string
	Line     int
	Column   int
}

// IfNode renders Then when Cond is truthy and Else otherwise. A nil Else
// means the block had no {{else}}.
type IfNode struct {
	Cond   string
	Then   []Node
	Else   []Node
	Line   int
	Column int
}

// EachNode renders Body once per element of the sequence at List, or Else
// when the value is missing, empty or not a sequence.
type EachNode struct {
	List   string
	Body   []Node
	Else   []Node
	Line   int
	Column int
}

func (*TextNode) node() {}
func (*VarNode) node()  {}
func (*IfNode) node()   {}
func (*EachNode) node() {}

// CompiledTemplate is the parsed form of one template source. It is never
// modified after Parse returns and may be executed from many goroutines.
type CompiledTemplate struct {
	Source string
	Nodes  []Node
}

// ParseError reports a malformed template. It unwraps to the structured
// *errors.NanoError so callers can use errors.IsParseError and friends.
type ParseError struct {
	*errors.NanoError
}

// Unwrap exposes the structured error.
func (e *ParseError) Unwrap() error {
	return e.NanoError
}

func newParseError(code, msg string, line, col int) *ParseError {
	return &ParseError{NanoError: errors.NewParseError(code, msg, line, col)}
}
