package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/nanorender/internal/config"
	"github.com/conneroisu/nanorender/internal/data"
	"github.com/conneroisu/nanorender/internal/livereload"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/renderer"
	"github.com/conneroisu/nanorender/internal/security"
	"github.com/conneroisu/nanorender/internal/store"
	"github.com/conneroisu/nanorender/internal/watcher"
)

type fixture struct {
	fs     afero.Fs
	cfg    *config.Config
	server *PreviewServer
	http   *httptest.Server
}

func newFixture(t *testing.T, files map[string]string, state map[string]any, mutate func(*config.Config), withHub bool) *fixture {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	cfg.Templates.Dir = "/site/templates"
	cfg.Templates.Exclude = []string{"_*"}
	if mutate != nil {
		mutate(cfg)
	}

	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}

	opts := Options{
		Config: cfg,
		Engine: renderer.NewEngine(renderer.WithLogger(logging.NewNopLogger())),
		Loader: loader.New(fsys, loader.Options{
			Root:       cfg.Templates.Dir,
			Extensions: cfg.Templates.Extensions,
			Exclude:    cfg.Templates.Exclude,
		}),
		Data:       store.New(state),
		DataLoader: data.NewLoader(fsys, 0),
		Logger:     logging.NewNopLogger(),
	}
	if withHub {
		opts.Hub = livereload.NewHub(security.NewOriginAllowList(nil), logging.NewNopLogger())
	}

	s, err := New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{fs: fsys, cfg: cfg, server: s, http: srv}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestConfiguredRoute(t *testing.T) {
	f := newFixture(t,
		map[string]string{"/site/templates/user.html": "<h1>{{route.title}} {{params.id}}</h1><p>{{name}}</p><i>{{query.tab || 'none'}}</i>"},
		map[string]any{"name": "<Ada>"},
		func(cfg *config.Config) {
			cfg.Routes = []config.RouteConfig{{Path: "/users/:id", Template: "user.html", Title: "User"}}
		}, false)

	resp, body := f.get(t, "/users/42?tab=posts")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>User 42</h1><p>&lt;Ada&gt;</p><i>posts</i>", body)

	_, body = f.get(t, "/users/7")
	assert.Contains(t, body, "<i>none</i>")
}

func TestFileFallback(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/site/templates/index.html":         "<title>{{route.title}}</title>",
		"/site/templates/about-us.html":      "<title>{{route.title}}</title>",
		"/site/templates/docs/index.html":    "<title>{{route.title}}</title>",
		"/site/templates/_layout.html":       "secret",
		"/site/templates/pages/contact.tmpl": "contact {{route.pathname}}",
	}, nil, nil, false)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<title>Home</title>"},
		{"/about-us", http.StatusOK, "<title>About Us</title>"},
		{"/about-us.html", http.StatusOK, "<title>About Us</title>"},
		{"/docs", http.StatusOK, "<title>Docs</title>"},
		{"/pages/contact", http.StatusOK, "contact /pages/contact"},
		{"/_layout", http.StatusNotFound, ""},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := f.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				assert.Equal(t, tt.body, body)
			}
		})
	}
}

func TestParseErrorPage(t *testing.T) {
	f := newFixture(t, map[string]string{"/site/templates/broken.html": "{{#if ready}}never closed"}, nil, nil, false)

	resp, body := f.get(t, "/broken")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "<!-- nanorender: ")
	assert.Contains(t, body, "nanorender-error-overlay")
	assert.Contains(t, body, "ERR_UNTERMINATED_BLOCK")

	health := f.server.Health()
	assert.Equal(t, "degraded", health.Status)
	require.Len(t, health.Failures, 1)
	assert.Equal(t, "broken.html", health.Failures[0].File)

	// A second failure replaces the first.
	f.get(t, "/broken")
	assert.Len(t, f.server.Health().Failures, 1)
}

func TestMarkdownPage(t *testing.T) {
	f := newFixture(t, map[string]string{"/site/templates/release-notes.md": "# {{title}}\n\n- {{#each items}}{{this}} {{/each}}\n"},
		map[string]any{"title": "Hello <World>", "items": []any{"a", "b"}}, nil, false)

	resp, body := f.get(t, "/release-notes")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<title>Release Notes</title>")
	assert.Contains(t, body, "<h1>Hello &lt;World&gt;</h1>")
	assert.Contains(t, body, "<li>a b</li>")
}

func TestLiveReloadScriptInjected(t *testing.T) {
	f := newFixture(t, map[string]string{"/site/templates/index.html": "<html><body><p>hi</p></body></html>"}, nil,
		func(cfg *config.Config) { cfg.Server.BasePath = "/app" }, true)

	resp, body := f.get(t, "/app/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"/app/_live"`)
	assert.True(t, strings.HasSuffix(body, "</body></html>"))

	resp, _ = f.get(t, "/index")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestHeaders(t *testing.T) {
	f := newFixture(t, map[string]string{"/site/templates/index.html": "ok"}, nil, nil, false)

	resp, _ := f.get(t, "/")
	_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/", nil)
	require.NoError(t, err)
	post, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)

	head, err := http.Head(f.http.URL + "/")
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusOK, head.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, map[string]string{"/site/templates/index.html": "ok"}, nil, func(cfg *config.Config) {
		cfg.Routes = []config.RouteConfig{{Path: "/", Template: "index.html"}}
	}, false)
	f.get(t, "/")
	f.get(t, "/")

	resp, body := f.get(t, "/_health")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health Health
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"/"}, health.Routes)
	assert.Equal(t, int64(1), health.Cache.Parses)
	assert.Equal(t, int64(1), health.Cache.Hits)
}

func TestHandleChangesReloadsTemplatesAndData(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/site/templates/index.html": "v1 {{greeting}}",
		"/site/data.json":            `{"greeting":"hello"}`,
	}, map[string]any{"greeting": "hello"}, func(cfg *config.Config) {
		cfg.Data.File = "/site/data.json"
	}, false)

	_, body := f.get(t, "/")
	assert.Equal(t, "v1 hello", body)

	require.NoError(t, afero.WriteFile(f.fs, "/site/templates/index.html", []byte("v2 {{greeting}}"), 0o644))
	require.NoError(t, afero.WriteFile(f.fs, "/site/data.json", []byte(`{"greeting":"bonjour"}`), 0o644))
	require.NoError(t, f.server.HandleChanges([]watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: "/site/data.json"},
		{Type: watcher.EventTypeModified, Path: "/site/templates/index.html"},
		{Type: watcher.EventTypeModified, Path: "/site/templates/style.css"},
	}))

	_, body = f.get(t, "/")
	assert.Equal(t, "v2 bonjour", body)

	// A broken data file keeps the old data.
	require.NoError(t, afero.WriteFile(f.fs, "/site/data.json", []byte(`{"greeting":`), 0o644))
	err := f.server.HandleChanges([]watcher.ChangeEvent{{Type: watcher.EventTypeModified, Path: "/site/data.json"}})
	require.Error(t, err)
	_, body = f.get(t, "/")
	assert.Equal(t, "v2 bonjour", body)

	require.NoError(t, f.fs.Remove("/site/templates/index.html"))
	require.NoError(t, f.server.HandleChanges([]watcher.ChangeEvent{{Type: watcher.EventTypeDeleted, Path: "/site/templates/index.html"}}))
	resp, _ := f.get(t, "/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
