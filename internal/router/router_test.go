package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	r := New("/")
	r.Register("/", "/users/:id", "/users/:id/posts/:post", "/docs/*", "/docs/api")

	tests := []struct {
		name    string
		path    string
		pattern string
		params  map[string]string
		found   bool
	}{
		{name: "root", path: "/", pattern: "/", params: map[string]string{}, found: true},
		{name: "param", path: "/users/42", pattern: "/users/:id", params: map[string]string{"id": "42"}, found: true},
		{name: "nested params", path: "/users/42/posts/7", pattern: "/users/:id/posts/:post",
			params: map[string]string{"id": "42", "post": "7"}, found: true},
		{name: "prefix base", path: "/docs", pattern: "/docs/*", params: map[string]string{}, found: true},
		{name: "prefix deep", path: "/docs/guide/intro", pattern: "/docs/*", params: map[string]string{}, found: true},
		{name: "exact beats prefix", path: "/docs/api", pattern: "/docs/api", params: map[string]string{}, found: true},
		{name: "trailing slash", path: "/users/42/", pattern: "/users/:id", params: map[string]string{"id": "42"}, found: true},
		{name: "no partial segment", path: "/docsx", found: false},
		{name: "too deep", path: "/users/42/extra", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := r.Match(tt.path)
			require.Equal(t, tt.found, ok)
			if !tt.found {
				return
			}
			assert.Equal(t, tt.pattern, m.Pattern)
			assert.Equal(t, tt.params, m.Params)
		})
	}
}

func TestMatchFirstRegisteredWinsTies(t *testing.T) {
	r := New("/")
	r.Register("/items/:id", "/items/:slug")

	m, ok := r.Match("/items/abc")
	require.True(t, ok)
	assert.Equal(t, "/items/:id", m.Pattern)
}

func TestRegister(t *testing.T) {
	r := New("/")
	assert.True(t, r.Register("/a", "/b"))
	assert.False(t, r.Register("/a"))
	assert.True(t, r.Register("/a", "/c"))
	assert.Equal(t, []string{"/a", "/b", "/c"}, r.Routes())
}

func TestRelative(t *testing.T) {
	r := New("/app/")
	assert.Equal(t, "/app", r.BasePath())
	assert.Equal(t, "/", r.Relative("/app"))
	assert.Equal(t, "/", r.Relative("/app/"))
	assert.Equal(t, "/users/1", r.Relative("/app/users/1"))
	assert.Equal(t, "/application", r.Relative("/application"))
	assert.Equal(t, "/other", r.Relative("/other"))

	root := New("")
	assert.Equal(t, "/", root.BasePath())
	assert.Equal(t, "/x", root.Relative("//x"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/app/users", New("/app").Join("/users"))
	assert.Equal(t, "/users", New("/").Join("users"))
}

func TestNavigatePublishesState(t *testing.T) {
	r := New("/app")
	r.Register("/users/:id")

	var seen []map[string]any
	r.Store().Subscribe(func(state map[string]any) {
		seen = append(seen, state)
	})

	m, ok := r.Navigate("/app/users/9")
	require.True(t, ok)
	assert.Equal(t, "9", m.Params["id"])

	require.Len(t, seen, 1)
	assert.Equal(t, "/users/9", seen[0]["pathname"])
	assert.Equal(t, map[string]string{"id": "9"}, seen[0]["params"])

	_, ok = r.Navigate("/app/missing")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{}, r.Store().GetState()["params"])
}

func TestRegisterRematchesCurrentLocation(t *testing.T) {
	r := New("/")
	_, ok := r.Navigate("/posts/hello")
	assert.False(t, ok)

	r.Register("/posts/:slug")
	params, _ := r.Store().Get("params")
	assert.Equal(t, map[string]string{"slug": "hello"}, params)

	assert.False(t, r.Register("/posts/:slug"))
}
