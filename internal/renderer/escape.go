package renderer

import (
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
	"/", "&#x2F;",
)

// EscapeHTML replaces & < > " ' / with their entities.
func EscapeHTML(s string) string {
	if !strings.ContainsAny(s, `&<>"'/`) {
		return s
	}
	return htmlReplacer.Replace(s)
}

func writeEscaped(w io.Writer, s string) error {
	if !strings.ContainsAny(s, `&<>"'/`) {
		_, err := io.WriteString(w, s)
		return err
	}
	_, err := htmlReplacer.WriteString(w, s)
	return err
}

const objectString = "[object Object]"

// Stringify converts a resolved value to its output text. Sequences are
// joined with commas and records print as [object Object], so templates
// written for a browser runtime render the same text.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case []any:
		return joinSequence(len(x), func(i int) any { return x[i] })
	case []string:
		return strings.Join(x, ",")
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}

	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return ""
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Slice, reflect.Array:
		return joinSequence(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map, reflect.Struct:
		return objectString
	}

	return fmt.Sprint(rv.Interface())
}

func joinSequence(n int, at func(int) any) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = Stringify(at(i))
	}
	return strings.Join(parts, ",")
}

// formatFloat prints the shortest representation that round-trips, switching
// to exponent form outside [1e-6, 1e21) like JavaScript number output.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, bitSize)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
