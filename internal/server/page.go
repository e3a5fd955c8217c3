package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conneroisu/nanorender/internal/errors"
	"github.com/conneroisu/nanorender/internal/livereload"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/renderer"
)

// page is a resolved request: which template to render and what the
// route contributed to the context.
type page struct {
	name     string
	title    string
	pattern  string
	pathname string
	params   map[string]string
}

func (s *PreviewServer) inBase(p string) bool {
	base := s.router.BasePath()
	return base == "/" || p == base || strings.HasPrefix(p, base+"/")
}

func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.inBase(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	pg, tmpl, err := s.resolve(s.router.Relative(r.URL.Path))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}

	body, err := s.renderPage(pg, tmpl, r)
	if err != nil {
		s.failures.RemoveFile(pg.name)
		s.failures.AddError(pg.name, err)
		s.logger.Warn(r.Context(), err, "Render failed", "template", pg.name)
		s.writeHTML(w, r, http.StatusInternalServerError, s.errorPage(pg.name, err))
		return
	}
	s.failures.RemoveFile(pg.name)

	s.writeHTML(w, r, http.StatusOK, body)
	s.logger.Debug(r.Context(), "Rendered page",
		"template", pg.name,
		"size", humanize.Bytes(uint64(len(body))),
		"duration", time.Since(start).String())
}

// resolve finds the template for a path relative to the base path. A
// configured route wins; otherwise the path names a template file, with
// the configured extensions and index files tried in order.
func (s *PreviewServer) resolve(rel string) (page, *loader.Template, error) {
	if m, ok := s.router.Match(rel); ok {
		route := s.routes[m.Pattern]
		tmpl, err := s.loader.Load(route.Template)
		if err != nil {
			return page{}, nil, err
		}
		title := route.Title
		if title == "" {
			title = s.titleFor(tmpl.Name)
		}
		return page{
			name:     tmpl.Name,
			title:    title,
			pattern:  m.Pattern,
			pathname: rel,
			params:   m.Params,
		}, tmpl, nil
	}

	for _, name := range s.candidates(rel) {
		if _, err := loader.Clean(name); err != nil {
			return page{}, nil, err
		}
		if !s.loader.IsTemplate(name) {
			continue
		}
		tmpl, err := s.loader.Load(name)
		if err != nil {
			if errors.IsSecurityError(err) {
				return page{}, nil, err
			}
			continue
		}
		return page{
			name:     tmpl.Name,
			title:    s.titleFor(tmpl.Name),
			pathname: rel,
			params:   map[string]string{},
		}, tmpl, nil
	}

	return page{}, nil, errors.NewValidationError(errors.ErrCodeRouteNotFound, "no route or template for "+rel)
}

func (s *PreviewServer) candidates(rel string) []string {
	name := strings.Trim(rel, "/")
	if name == "" {
		name = "index"
	}
	if path.Ext(name) != "" && s.loader.IsTemplate(name) {
		return []string{name}
	}

	exts := s.config.Templates.Extensions
	out := make([]string, 0, 2*len(exts))
	for _, ext := range exts {
		out = append(out, name+ext)
	}
	if name != "index" {
		for _, ext := range exts {
			out = append(out, name+"/index"+ext)
		}
	}
	return out
}

// titleFor derives a page title from a template name: pages/about-us.html
// becomes "About Us" and an index file takes its directory's name.
func (s *PreviewServer) titleFor(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "index" {
		dir := path.Dir(name)
		if dir == "." {
			return "Home"
		}
		base = path.Base(dir)
	}
	words := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' || r == '.' })
	return s.titler.String(strings.Join(words, " "))
}

// context builds the render context for one request: the data store's
// state plus the reserved keys params, route and query.
func (s *PreviewServer) context(pg page, r *http.Request) map[string]any {
	ctx := s.data.GetState()

	params := make(map[string]any, len(pg.params))
	for k, v := range pg.params {
		params[k] = v
	}
	ctx["params"] = params

	ctx["route"] = map[string]any{
		"path":     pg.pattern,
		"pathname": pg.pathname,
		"title":    pg.title,
		"template": pg.name,
	}

	query := make(map[string]any)
	for k, values := range r.URL.Query() {
		if len(values) > 0 {
			query[k] = values[0]
		}
	}
	ctx["query"] = query

	return ctx
}

func (s *PreviewServer) renderPage(pg page, tmpl *loader.Template, r *http.Request) (string, error) {
	compiled, err := s.engine.Compile(tmpl.Source)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := s.engine.Execute(&buf, compiled, s.context(pg, r)); err != nil {
		return "", err
	}

	body := buf.String()
	if isMarkdown(pg.name) {
		body, err = s.markdownPage(body, pg.title)
		if err != nil {
			return "", err
		}
	}
	return s.withReloadScript(body), nil
}

func (s *PreviewServer) withReloadScript(body string) string {
	if s.hub == nil {
		return body
	}
	endpoint := strings.TrimSuffix(s.router.BasePath(), "/") + livereload.DefaultPath
	return livereload.InjectScript(body, endpoint)
}

// errorPage shows the error overlay. The diagnostic comment keeps the
// machine-readable form in the page source.
func (s *PreviewServer) errorPage(name string, err error) string {
	collector := errors.NewErrorCollector()
	collector.AddError(name, err)

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Template error</title></head><body>`)
	b.WriteString(renderer.Diagnostic(err))
	b.WriteString(collector.ErrorOverlay())
	b.WriteString(`</body></html>`)
	return s.withReloadScript(b.String())
}

func (s *PreviewServer) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusNotFound
	if errors.IsSecurityError(err) {
		status = http.StatusForbidden
	}
	var ne *errors.NanoError
	if stderrors.As(err, &ne) && ne.Type == errors.ErrorTypeIO {
		status = http.StatusInternalServerError
	}
	s.logger.Debug(r.Context(), "Page not served", "path", r.URL.Path, "status", status, "error", err.Error())
	http.Error(w, http.StatusText(status), status)
}

func (s *PreviewServer) writeHTML(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(body))
}

// Health is the body of the /_health endpoint.
type Health struct {
	Status   string              `json:"status"`
	Routes   []string            `json:"routes"`
	Cache    renderer.CacheStats `json:"cache"`
	Clients  int                 `json:"clients"`
	Failures []errors.Diagnostic `json:"failures"`
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Health()); err != nil {
		s.logger.Warn(r.Context(), err, "Encoding health response failed")
	}
}

// Health reports routes, cache activity, connected browsers and the last
// failure of every template that currently fails to render.
func (s *PreviewServer) Health() Health {
	h := Health{
		Status:   "ok",
		Routes:   s.router.Routes(),
		Cache:    s.engine.Stats(),
		Failures: s.failures.GetErrors(),
	}
	if s.hub != nil {
		h.Clients = s.hub.Clients()
	}
	if len(h.Failures) > 0 {
		h.Status = "degraded"
	}
	return h
}
