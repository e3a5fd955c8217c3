package renderer

import (
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Context is the usual shape of render data. Any map with string keys,
// struct or pointer to struct is accepted as well.
type Context = map[string]any

const thisBinding = "this"

// scope is one level of the lookup chain. The root scope wraps the render
// data; each loop iteration pushes a child that binds this, index and the
// item's own properties, then falls back to its parent. Lookups never write,
// so sibling iterations cannot observe each other.
type scope struct {
	parent   *scope
	this     any
	props    any
	index    int
	hasIndex bool
}

func rootScope(data any) *scope {
	return &scope{this: data, props: data}
}

func (s *scope) child(item any, index int) *scope {
	c := &scope{parent: s, this: item, index: index, hasIndex: true}
	if isRecord(item) {
		c.props = item
	}
	return c
}

func (s *scope) lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if name == thisBinding {
			return cur.this, true
		}
		if cur.hasIndex && (name == "index" || name == "@index") {
			return cur.index, true
		}
		if cur.props != nil {
			if v, ok := field(cur.props, name); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// resolve walks a dotted path starting at the scope. A false result means the
// value is absent; a present nil is reported as absent too by callers.
func (s *scope) resolve(path string) (v any, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = nil, false
		}
	}()

	head, rest, more := strings.Cut(path, ".")
	v, ok = s.lookup(head)
	for ok && more {
		v, ok = call(v)
		if !ok {
			return nil, false
		}
		head, rest, more = strings.Cut(rest, ".")
		v, ok = field(v, head)
	}
	if !ok {
		return nil, false
	}

	return call(v)
}

// Resolve looks path up in data the same way a template tag does. At the top
// level `this` is data itself.
func Resolve(path string, data any) (any, bool) {
	return rootScope(data).resolve(path)
}

// field reads one path segment from v. Maps are indexed by key, structs by
// exported field or method (exact name first, then case-insensitively),
// sequences by decimal index. `length` reports the size of sequences and
// strings.
func field(v any, name string) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		val, ok := x[name]
		return val, ok
	case []any:
		return sequenceField(len(x), name, func(i int) any { return x[i] })
	case string:
		if name == "length" {
			return utf8.RuneCountInString(x), true
		}
		return nil, false
	}

	orig := reflect.ValueOf(v)
	rv := indirect(orig)
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
			if val.IsValid() {
				return val.Interface(), true
			}
		}

	case reflect.Struct:
		if val, ok := structField(rv, name); ok {
			return val, true
		}

	case reflect.Slice, reflect.Array:
		if val, ok := sequenceField(rv.Len(), name, func(i int) any { return rv.Index(i).Interface() }); ok {
			return val, true
		}

	case reflect.String:
		if name == "length" {
			return utf8.RuneCountInString(rv.String()), true
		}
	}

	return method(orig, name)
}

func sequenceField(n int, name string, at func(int) any) (any, bool) {
	if name == "length" {
		return n, true
	}
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= n {
		return nil, false
	}
	return at(i), true
}

func structField(rv reflect.Value, name string) (any, bool) {
	t := rv.Type()
	sf, ok := t.FieldByName(name)
	if !ok || !sf.IsExported() {
		sf, ok = t.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
	}
	if !ok || !sf.IsExported() {
		return nil, false
	}
	fv, err := rv.FieldByIndexErr(sf.Index)
	if err != nil || !fv.CanInterface() {
		return nil, false
	}
	return fv.Interface(), true
}

// method returns the bound method called name (or its exported spelling).
func method(rv reflect.Value, name string) (any, bool) {
	if !rv.IsValid() || name == "" {
		return nil, false
	}
	m := rv.MethodByName(name)
	if !m.IsValid() {
		r, size := utf8.DecodeRuneInString(name)
		m = rv.MethodByName(strings.ToUpper(string(r)) + name[size:])
	}
	if !m.IsValid() {
		return nil, false
	}
	return m.Interface(), true
}

// call invokes niladic functions and returns any other value unchanged.
// Functions returning (T, error) yield absent on a non-nil error; a panic
// inside the function yields absent.
func call(v any) (result any, ok bool) {
	switch fn := v.(type) {
	case func() any:
		return invoke(func() (any, bool) { return fn(), true })
	case func() string:
		return invoke(func() (any, bool) { return fn(), true })
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func {
		return v, true
	}
	if rv.IsNil() {
		return nil, false
	}

	t := rv.Type()
	if t.NumIn() != 0 {
		return nil, false
	}
	switch {
	case t.NumOut() == 1:
		return invoke(func() (any, bool) { return rv.Call(nil)[0].Interface(), true })
	case t.NumOut() == 2 && t.Out(1) == errorType:
		return invoke(func() (any, bool) {
			out := rv.Call(nil)
			if !out[1].IsNil() {
				return nil, false
			}
			return out[0].Interface(), true
		})
	}
	return nil, false
}

func invoke(fn func() (any, bool)) (result any, ok bool) {
	defer func() {
		if recover() != nil {
			result, ok = nil, false
		}
	}()
	return fn()
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// isRecord reports whether v has named properties that a loop iteration
// should expose directly.
func isRecord(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case map[string]any:
		return true
	}
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Map:
		return rv.Type().Key().Kind() == reflect.String
	case reflect.Struct:
		return true
	}
	return false
}

// asSequence returns the length and element accessor of slices and arrays.
// Strings and maps are not sequences.
func asSequence(v any) (int, func(int) any, bool) {
	switch x := v.(type) {
	case nil:
		return 0, nil, false
	case []any:
		return len(x), func(i int) any { return x[i] }, true
	case []string:
		return len(x), func(i int) any { return x[i] }, true
	case []map[string]any:
		return len(x), func(i int) any { return x[i] }, true
	}
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return 0, nil, false
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), func(i int) any { return rv.Index(i).Interface() }, true
	}
	return 0, nil, false
}
