package data

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"github.com/conneroisu/nanorender/internal/errors"
)

var (
	intPattern   = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
	floatPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
	keyPattern   = regexp.MustCompile(`^[A-Za-z0-9_$@-]+$`)
)

// Coerce turns a command-line string into the value it most likely means:
// JSON objects, arrays and quoted strings are decoded, true/false become
// bools, null becomes nil and numbers become int64 or float64. Anything
// else stays a string.
func Coerce(raw string) any {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return raw
	case trimmed == "null":
		return nil
	case trimmed == "true" || trimmed == "false":
		return cast.ToBool(trimmed)
	case intPattern.MatchString(trimmed):
		if i, err := cast.ToInt64E(trimmed); err == nil {
			return i
		}
	case floatPattern.MatchString(trimmed):
		if f, err := cast.ToFloat64E(trimmed); err == nil {
			return f
		}
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, `"`):
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil && !dec.More() {
			return Normalize(v)
		}
	}
	return raw
}

// Set assigns value at a dotted key path, creating intermediate objects.
// A non-object value in the way is replaced.
func Set(ctx map[string]any, path string, value any) error {
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if !keyPattern.MatchString(k) {
			return errors.NewValidationError(errors.ErrCodeInvalidPath, fmt.Sprintf("invalid key path %q", path))
		}
	}

	current := ctx
	for _, k := range keys[:len(keys)-1] {
		next, ok := current[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[k] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
	return nil
}

// ApplyOverrides applies key.path=value assignments in order. Every bad
// assignment is reported, the good ones still apply.
func ApplyOverrides(ctx map[string]any, assignments []string) error {
	var errs error
	for _, assignment := range assignments {
		key, value, ok := strings.Cut(assignment, "=")
		if !ok {
			errs = multierr.Append(errs, errors.NewValidationError(errors.ErrCodeDataInvalid,
				fmt.Sprintf("override %q is not key=value", assignment)))
			continue
		}
		errs = multierr.Append(errs, Set(ctx, strings.TrimSpace(key), Coerce(value)))
	}
	return errs
}

// Merge copies src into dst. Nested objects merge recursively, everything
// else in src replaces what dst had.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = Merge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
