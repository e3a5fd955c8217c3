package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/nanorender/internal/config"
	"github.com/conneroisu/nanorender/internal/errors"
	"github.com/conneroisu/nanorender/internal/version"
	"github.com/conneroisu/nanorender/internal/watcher"
)

func testApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("log.level", "error")
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	return newAppFrom(cfg)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestOutputFormat(t *testing.T) {
	f := newOutputFormat("table", "table", "json", "yaml")
	assert.Equal(t, "table", f.String())
	assert.Equal(t, "format", f.Type())

	require.NoError(t, f.Set(" JSON "))
	assert.Equal(t, "json", f.String())

	err := f.Set("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json, yaml")
	assert.Equal(t, "json", f.String())
}

func TestRenderJob(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"page.html": "<h1>{{ title }}</h1>{{#each items}}<li>{{ name }}</li>{{/each}}",
		"data.yaml": "title: Fish & Chips\nitems:\n  - name: cod\n  - name: haddock\n",
	})

	a := testApp(t, nil)
	job, err := a.newRenderJob(filepath.Join(dir, "page.html"), renderOptions{
		data: dataFlags{file: filepath.Join(dir, "data.yaml"), overrides: []string{"items.0=ignored", "title=Chips"}},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, job.run(context.Background(), &out))
	// items.0 turns the sequence into an object, which #each does not iterate.
	assert.Equal(t, "<h1>Chips</h1>", out.String())
}

func TestRenderJobWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"page.html": "Hello, {{ name || 'stranger' }}!"})
	target := filepath.Join(dir, "out", "page.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	a := testApp(t, nil)
	job, err := a.newRenderJob(filepath.Join(dir, "page.html"), renderOptions{output: target})
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, job.run(context.Background(), &stdout))
	assert.Empty(t, stdout.String())

	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "Hello, stranger!", string(written))
}

func TestRenderJobRoute(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"post.html": "{{{ route.title }}}|{{{ route.path }}}|{{{ route.pathname }}}|{{ params.id }}",
	})

	a := testApp(t, func(cfg *config.Config) {
		cfg.Server.BasePath = "/blog"
		cfg.Routes = []config.RouteConfig{{Path: "/posts/:id", Template: "post.html", Title: "Post"}}
	})
	job, err := a.newRenderJob(filepath.Join(dir, "post.html"), renderOptions{route: "/blog/posts/42"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, job.run(context.Background(), &out))
	assert.Equal(t, "Post|/posts/:id|/posts/42|42", out.String())
}

func TestRenderJobErrors(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"broken.html": "{{#if open}}never closed",
		"ok.html":     "{{ a }}",
	})
	a := testApp(t, nil)

	job, err := a.newRenderJob(filepath.Join(dir, "broken.html"), renderOptions{})
	require.NoError(t, err)
	err = job.run(context.Background(), &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
	assert.Contains(t, err.Error(), "broken.html")

	job, err = a.newRenderJob(filepath.Join(dir, "ok.html"), renderOptions{
		data: dataFlags{overrides: []string{"no-equals-sign"}},
	})
	require.NoError(t, err)
	assert.Error(t, job.run(context.Background(), &bytes.Buffer{}))

	job, err = a.newRenderJob(filepath.Join(dir, "missing.html"), renderOptions{})
	require.NoError(t, err)
	assert.Error(t, job.run(context.Background(), &bytes.Buffer{}))
}

func TestRenderJobHandleChanges(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	writeFiles(t, dir, map[string]string{"page.html": "v1 {{ n }}"})

	a := testApp(t, nil)
	job, err := a.newRenderJob(page, renderOptions{data: dataFlags{overrides: []string{"n=1"}}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, job.run(context.Background(), &out))
	assert.Equal(t, "v1 1", out.String())

	writeFiles(t, dir, map[string]string{"page.html": "v2 {{ n }}"})
	out.Reset()
	require.NoError(t, job.handleChanges(context.Background(), &out, []watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: page},
	}))
	assert.Equal(t, "v2 1", out.String())
	assert.Equal(t, 1, job.engine.Stats().Entries, "stale compiled template is dropped")
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"good.html":         "{{ a }}",
		"nested/bad.tmpl":   "line one\n{{#each items}}",
		"nested/_skip.html": "{{",
		"notes.txt":         "{{",
		"data.json":         `{"list": [1, 2, 3]}`,
	})

	a := testApp(t, func(cfg *config.Config) {
		cfg.Templates.Exclude = []string{"_*"}
		cfg.Data.File = filepath.Join(dir, "data.json")
		cfg.Data.MaxItems = 2
	})

	report, err := a.check([]string{dir}, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Diagnostics, 2)

	byFile := map[string]errors.Diagnostic{}
	for _, d := range report.Diagnostics {
		byFile[filepath.Base(d.File)] = d
	}
	bad := byFile["bad.tmpl"]
	assert.Equal(t, errors.ErrCodeUnterminatedBlock, bad.Code)
	assert.Equal(t, 2, bad.Line)
	assert.Equal(t, errors.ErrCodeDataInvalid, byFile["data.json"].Code)
}

func TestCheckSingleFileAndMissingPath(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"one.txt": "{{ fine }}"})
	a := testApp(t, nil)

	report, err := a.check([]string{filepath.Join(dir, "one.txt")}, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Diagnostics)

	_, err = a.check([]string{filepath.Join(dir, "nope")}, 1, false)
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	report := &checkReport{
		Checked: 2,
		Diagnostics: []errors.Diagnostic{{
			File: "a.html", Line: 1, Column: 4, Code: errors.ErrCodeEmptyTag,
			Message: "empty tag", Severity: errors.ErrorSeverityError,
		}},
	}

	var table bytes.Buffer
	require.NoError(t, writeReport(&table, "table", report))
	assert.Contains(t, table.String(), "a.html:1:4")
	assert.Contains(t, table.String(), "failed: checked 2 file(s), 1 problem(s)")
	assert.NotContains(t, table.String(), "\x1b[")

	var js bytes.Buffer
	require.NoError(t, writeReport(&js, "json", report))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, float64(2), decoded["checked"])
	first := decoded["diagnostics"].([]any)[0].(map[string]any)
	assert.Equal(t, "error", first["severity"])

	var ym bytes.Buffer
	require.NoError(t, writeReport(&ym, "yaml", report))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, 2, fromYAML["checked"])
	assert.Contains(t, ym.String(), "severity: error")
}

func TestWriteTableClean(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeReport(&out, "table", &checkReport{Checked: 3}))
	assert.Equal(t, "ok: checked 3 file(s), 0 problem(s)\n", out.String())
}

func TestWriteVersion(t *testing.T) {
	info := &version.BuildInfo{
		Version:   "v0.3.0",
		GitCommit: "abcdef1234",
		BuildTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
	}

	var out bytes.Buffer
	require.NoError(t, writeVersion(&out, info, "text", false))
	assert.Equal(t, "nanorender v0.3.0 (abcdef1)\n", out.String())

	out.Reset()
	require.NoError(t, writeVersion(&out, info, "text", true))
	assert.True(t, strings.HasPrefix(out.String(), "Version: v0.3.0\n"))

	out.Reset()
	require.NoError(t, writeVersion(&out, info, "json", false))
	assert.Contains(t, out.String(), `"platform": "linux/amd64"`)
}

func TestPreviewServerFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"templates/index.html": "{{ site }}",
		"data.toml":            "site = \"demo\"\n",
	})
	a := testApp(t, func(cfg *config.Config) {
		cfg.Templates.Dir = filepath.Join(dir, "templates")
		cfg.Data.File = filepath.Join(dir, "data.toml")
	})

	s, err := a.previewServer(false)
	require.NoError(t, err)
	assert.Equal(t, "ok", s.Health().Status)

	a.config.Data.File = filepath.Join(dir, "missing.json")
	_, err = a.previewServer(false)
	assert.Error(t, err)
}
