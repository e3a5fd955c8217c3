//go:build property

package renderer

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRenderProperties validates escaping, fallback and iteration invariants
func TestRenderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Property: escaped output never contains raw markup characters
	properties.Property("escaping is total", prop.ForAll(
		func(s string) bool {
			out, err := Render("{{v}}", Context{"v": s})
			if err != nil {
				return false
			}
			if strings.ContainsAny(out, `<>"'`) {
				return false
			}
			// every & must start an entity we produced
			for i := strings.IndexByte(out, '&'); i >= 0; i = nextAmp(out, i) {
				rest := out[i:]
				if !hasEntityPrefix(rest) {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	// Property: escaping is reversible, so no content is lost
	properties.Property("escaping preserves content", prop.ForAll(
		func(s string) bool {
			return unescape(EscapeHTML(s)) == s
		},
		gen.AnyString(),
	))

	// Property: fallback applies only to absent values
	properties.Property("fallback exactness", prop.ForAll(
		func(n int, s string, b bool) bool {
			src := "{{x || 'fb'}}"
			for _, v := range []any{n, s, b} {
				out, err := Render(src, Context{"x": v})
				if err != nil || out != EscapeHTML(Stringify(v)) {
					return false
				}
			}
			out, err := Render(src, Context{})
			return err == nil && out == "fb"
		},
		gen.Int(),
		gen.AlphaString(),
		gen.Bool(),
	))

	// Property: each renders the body once per element in order
	properties.Property("each iterates in order", prop.ForAll(
		func(xs []int) bool {
			items := make([]any, len(xs))
			var want strings.Builder
			for i, x := range xs {
				items[i] = x
				want.WriteString(Stringify(x))
				want.WriteString(",")
			}
			if len(xs) == 0 {
				want.WriteString("none")
			}
			out, err := Render("{{#each xs}}{{this}},{{else}}none{{/each}}", Context{"xs": items})
			return err == nil && out == want.String()
		},
		gen.SliceOf(gen.Int()),
	))

	// Property: text without tags renders verbatim
	properties.Property("literal text round-trips", prop.ForAll(
		func(s string) bool {
			if strings.Contains(s, "{{") {
				return true
			}
			out, err := Render(s, Context{})
			return err == nil && out == s
		},
		gen.AnyString(),
	))

	// Property: compiling the same source twice parses once
	properties.Property("compile is idempotent", prop.ForAll(
		func(name string) bool {
			e := NewEngine()
			src := "<p>{{" + name + "}}</p>"
			first, err := e.Compile(src)
			if err != nil {
				return false
			}
			second, err := e.Compile(src)
			if err != nil {
				return false
			}
			return first == second && e.Stats().Parses == 1
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func nextAmp(s string, i int) int {
	j := strings.IndexByte(s[i+1:], '&')
	if j < 0 {
		return -1
	}
	return i + 1 + j
}

var entities = []string{"&amp;", "&lt;", "&gt;", "&quot;", "&#39;", "&#x2F;"}

func hasEntityPrefix(s string) bool {
	for _, e := range entities {
		if strings.HasPrefix(s, e) {
			return true
		}
	}
	return false
}

var unescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x2F;", "/",
	"&amp;", "&",
)

func unescape(s string) string {
	return unescaper.Replace(s)
}
