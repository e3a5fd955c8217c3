package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	policy := NewPolicy()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"event handler removed", `<img src=x onerror=alert(1)>`, `<img src="x">`},
		{"nested script removed", `<p>hi<script>alert(1)</script></p>`, `<p>hi</p>`},
		{"top level style removed", `<style>p{color:red}</style><b>x</b>`, `<b>x</b>`},
		{"javascript href removed", `<a href="  JavaScript:alert(1)">x</a>`, `<a>x</a>`},
		{"javascript src removed", `<img src="javascript:void(0)" alt="a">`, `<img alt="a">`},
		{"safe link kept", `<a href="https://example.com" onclick="steal()">y</a>`, `<a href="https://example.com">y</a>`},
		{"iframe removed", `<iframe src="https://evil.example"></iframe>ok`, `ok`},
		{"link and meta removed", `<link rel="stylesheet" href="x.css"><meta charset="utf-8"><span>s</span>`, `<span>s</span>`},
		{"embed removed", `<div><embed src="x.swf">text</div>`, `<div>text</div>`},
		{"text escaped", `a & b < c`, `a &amp; b &lt; c`},
		{"plain text untouched", `hello`, `hello`},
		{"attribute quoting", `<span title='say "hi"'>t</span>`, `<span title="say &#34;hi&#34;">t</span>`},
		{"comment kept", `<!-- note --><b>x</b>`, `<!-- note --><b>x</b>`},
		{"empty", ``, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeUppercaseHandlers(t *testing.T) {
	got, err := NewPolicy().Sanitize(`<div ONMOUSEOVER="x()" class="c">d</div>`)
	require.NoError(t, err)
	assert.Equal(t, `<div class="c">d</div>`, got)
}

func TestCustomPolicy(t *testing.T) {
	policy := NewPolicy(WithDeniedElements("b"), WithDeniedSchemes("data"))

	got, err := policy.Sanitize(`<b>bold</b><i>it</i><script>x</script>`)
	require.NoError(t, err)
	assert.Equal(t, `<i>it</i><script>x</script>`, got)

	got, err = policy.Sanitize(`<img src="data:image/png;base64,AAA"><a href="javascript:x">l</a>`)
	require.NoError(t, err)
	assert.Equal(t, `<img><a href="javascript:x">l</a>`, got)

	assert.ElementsMatch(t, []string{"b"}, policy.DeniedElements())
}

func TestDefaultDeniedElements(t *testing.T) {
	assert.ElementsMatch(t, DefaultDeniedElements, NewPolicy().DeniedElements())
}

func TestOriginAllowList(t *testing.T) {
	list := NewOriginAllowList([]string{"http://localhost:8080", "https://Example.com", "not a url"})

	assert.True(t, list.IsAllowedOrigin(""))
	assert.True(t, list.IsAllowedOrigin("http://localhost:8080"))
	assert.True(t, list.IsAllowedOrigin("https://example.com"))
	assert.False(t, list.IsAllowedOrigin("http://localhost:9090"))
	assert.False(t, list.IsAllowedOrigin("https://evil.example"))
	assert.False(t, list.IsAllowedOrigin("file:///etc/passwd"))
	assert.False(t, list.IsAllowedOrigin("::"))

	assert.True(t, NewOriginAllowList([]string{"*"}).IsAllowedOrigin("https://anything.example"))
}
