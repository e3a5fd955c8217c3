package renderer

import (
	"context"
	"io"
	"math"
	"reflect"
	"strings"

	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/security"
)

// env carries what a render needs besides the data: the sanitizer policy for
// safe tags and a logger for degraded output.
type env struct {
	policy *security.Policy
	logger logging.Logger
}

var defaultEnv = env{
	policy: security.NewPolicy(),
	logger: logging.NewNopLogger(),
}

// Execute renders the template against data into w using the default
// sanitizer policy. Write errors stop the render and are returned.
func (t *CompiledTemplate) Execute(w io.Writer, data any) error {
	return t.execute(w, data, defaultEnv)
}

// Render is Execute into a string.
func (t *CompiledTemplate) Render(data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *CompiledTemplate) execute(w io.Writer, data any, e env) error {
	ev := &evaluator{w: w, env: e}
	ev.walk(t.Nodes, rootScope(data))
	return ev.err
}

type evaluator struct {
	w   io.Writer
	env env
	err error
}

func (ev *evaluator) walk(nodes []Node, s *scope) {
	for _, n := range nodes {
		if ev.err != nil {
			return
		}
		switch n := n.(type) {
		case *TextNode:
			ev.write(n.Value)
		case *VarNode:
			ev.variable(n, s)
		case *IfNode:
			v, _ := s.resolve(n.Cond)
			if Truthy(v) {
				ev.walk(n.Then, s)
			} else if n.Else != nil {
				ev.walk(n.Else, s)
			}
		case *EachNode:
			ev.each(n, s)
		}
	}
}

func (ev *evaluator) variable(n *VarNode, s *scope) {
	v, ok := s.resolve(n.Path)
	var text string
	switch {
	case ok && v != nil && !isNilValue(v):
		text = Stringify(v)
	case n.Fallback != nil:
		text = *n.Fallback
	default:
		return
	}

	switch {
	case n.Escape:
		if ev.err == nil {
			ev.err = writeEscaped(ev.w, text)
		}
	case n.Safe:
		clean, err := ev.env.policy.Sanitize(text)
		if err != nil {
			ev.env.logger.Warn(context.Background(), err, "Sanitizer rejected fragment",
				"path", n.Path, "line", n.Line, "column", n.Column)
			return
		}
		ev.write(clean)
	default:
		ev.write(text)
	}
}

func (ev *evaluator) each(n *EachNode, s *scope) {
	v, _ := s.resolve(n.List)
	length, at, ok := asSequence(v)
	if !ok || length == 0 {
		if n.Else != nil {
			ev.walk(n.Else, s)
		}
		return
	}

	for i := 0; i < length && ev.err == nil; i++ {
		ev.walk(n.Body, s.child(at(i), i))
	}
}

func (ev *evaluator) write(s string) {
	if ev.err != nil || s == "" {
		return
	}
	_, ev.err = io.WriteString(ev.w, s)
}

// Truthy applies the template truth rules: false, 0, NaN, "", nil and empty
// sequences are false; every other value, including empty maps, is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	case []any:
		return len(x) > 0
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Map, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}

// isNilValue reports typed nils such as a nil *T or nil map stored in an
// interface.
func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
