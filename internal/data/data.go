// Package data loads render contexts from data files and command-line
// overrides. Every loader returns a plain map[string]any tree so the
// renderer sees the same shapes no matter which format the data came from.
package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/nanorender/internal/errors"
)

// Format names a data file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatEnv  Format = "env"
)

// FormatOf picks the format from a file extension.
func FormatOf(file string) (Format, bool) {
	base := strings.ToLower(filepath.Base(file))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return FormatEnv, true
	}
	switch filepath.Ext(base) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".env":
		return FormatEnv, true
	}
	return "", false
}

// Loader reads data files from a filesystem and checks them against a
// sequence limit.
type Loader struct {
	fs       afero.Fs
	maxItems int
}

// NewLoader creates a loader. maxItems <= 0 disables the sequence limit.
func NewLoader(fsys afero.Fs, maxItems int) *Loader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Loader{fs: fsys, maxItems: maxItems}
}

// Load reads file and decodes it by extension.
func (l *Loader) Load(file string) (map[string]any, error) {
	format, ok := FormatOf(file)
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeDataInvalid,
			fmt.Sprintf("unsupported data file %q (use .json, .yaml, .toml or .env)", file))
	}

	content, err := afero.ReadFile(l.fs, file)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "reading data file "+file, err)
	}

	ctx, err := Parse(format, content)
	if err != nil {
		return nil, withFile(err, file)
	}
	if err := l.Check(ctx); err != nil {
		return nil, withFile(err, file)
	}
	return ctx, nil
}

func withFile(err error, file string) error {
	if ne, ok := err.(*errors.NanoError); ok {
		return ne.WithLocation(file, 0, 0)
	}
	return err
}

// Parse decodes content into a context. The top level must be an object.
func Parse(format Format, content []byte) (map[string]any, error) {
	var raw any
	var err error

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.UseNumber()
		err = dec.Decode(&raw)
	case FormatYAML:
		err = yaml.Unmarshal(content, &raw)
	case FormatTOML:
		var doc map[string]any
		err = toml.Unmarshal(content, &doc)
		raw = doc
	case FormatEnv:
		var env gotenv.Env
		env, err = gotenv.StrictParse(bytes.NewReader(content))
		if err == nil {
			m := make(map[string]any, len(env))
			for k, v := range env {
				m[k] = v
			}
			raw = m
		}
	default:
		return nil, errors.NewValidationError(errors.ErrCodeDataInvalid, "unknown data format "+string(format))
	}
	if err != nil {
		return nil, &errors.NanoError{
			Type:    errors.ErrorTypeValidation,
			Code:    errors.ErrCodeDataInvalid,
			Message: fmt.Sprintf("decoding %s data", format),
			Cause:   err,
		}
	}

	if raw == nil {
		return map[string]any{}, nil
	}
	ctx, ok := Normalize(raw).(map[string]any)
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeDataInvalid,
			fmt.Sprintf("%s data must be an object at the top level", format))
	}
	return ctx, nil
}

// Normalize rewrites decoded values into map[string]any, []any and plain
// scalars. YAML maps with non-string keys get their keys stringified and
// JSON numbers become int64 or float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[cast.ToString(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// Check enforces the sequence limit anywhere in ctx.
func (l *Loader) Check(ctx map[string]any) error {
	if l.maxItems <= 0 {
		return nil
	}
	return checkItems(ctx, "", l.maxItems)
}

func checkItems(v any, path string, limit int) error {
	switch val := v.(type) {
	case map[string]any:
		var errs error
		for k, item := range val {
			errs = multierr.Append(errs, checkItems(item, joinPath(path, k), limit))
		}
		return errs
	case []any:
		if len(val) > limit {
			return errors.NewValidationError(errors.ErrCodeDataInvalid,
				fmt.Sprintf("%s has %d items, the limit is %d", displayPath(path), len(val), limit)).
				WithContext("path", path)
		}
		var errs error
		for i, item := range val {
			errs = multierr.Append(errs, checkItems(item, fmt.Sprintf("%s[%d]", path, i), limit))
		}
		return errs
	}
	return nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "data"
	}
	return path
}
