// Package router matches request paths against route patterns such as
// /users/:id and /docs/*, and publishes the current location through a
// store so that pages can render it.
package router

import (
	"strings"
	"sync"

	"github.com/conneroisu/nanorender/internal/store"
)

// Match is the result of matching a path against one route.
type Match struct {
	Pattern string
	// Path is the part of the request path the pattern consumed. Longer
	// means more specific.
	Path   string
	Params map[string]string
}

type route struct {
	pattern  string
	segments []string
	prefix   bool
}

func compile(pattern string) route {
	r := route{pattern: pattern}
	p := pattern
	if strings.HasSuffix(p, "/*") {
		r.prefix = true
		p = strings.TrimSuffix(p, "/*")
	}
	r.segments = splitPath(p)
	return r
}

// match consumes path segment by segment. A prefix route also matches any
// deeper path.
func (r route) match(path string) (Match, bool) {
	parts := splitPath(path)
	if len(parts) < len(r.segments) || (!r.prefix && len(parts) != len(r.segments)) {
		return Match{}, false
	}

	params := make(map[string]string)
	for i, seg := range r.segments {
		part := parts[i]
		if name, ok := strings.CutPrefix(seg, ":"); ok && name != "" {
			params[name] = part
		} else if seg != part {
			return Match{}, false
		}
	}

	matched := "/" + strings.Join(parts[:len(r.segments)], "/")
	return Match{Pattern: r.pattern, Path: matched, Params: params}, true
}

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Router holds registered patterns in registration order and tracks the
// current location in a store with the keys "pathname" and "params".
type Router struct {
	basePath string
	mutex    sync.RWMutex
	routes   []route
	known    map[string]bool
	current  string
	state    *store.Store
}

// New creates a router that strips basePath from incoming paths.
func New(basePath string) *Router {
	basePath = "/" + strings.Trim(basePath, "/")
	return &Router{
		basePath: basePath,
		known:    make(map[string]bool),
		state:    store.New(map[string]any{"pathname": nil, "params": map[string]string{}}),
	}
}

// Store exposes the location state for subscribers.
func (r *Router) Store() *store.Store {
	return r.state
}

// Register adds patterns that are not yet known and reports whether any
// were new. When the route table grows the current location is matched
// again, so nested routes registered late still take effect.
func (r *Router) Register(patterns ...string) bool {
	r.mutex.Lock()
	added := false
	for _, p := range patterns {
		if r.known[p] {
			continue
		}
		r.known[p] = true
		r.routes = append(r.routes, compile(p))
		added = true
	}
	current := r.current
	r.mutex.Unlock()

	if added && current != "" {
		r.Navigate(current)
	}
	return added
}

// Routes returns the registered patterns in registration order.
func (r *Router) Routes() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}

// BasePath returns the normalized base path.
func (r *Router) BasePath() string {
	return r.basePath
}

// Relative strips the base path from p, keeping exactly one leading slash.
// Paths outside the base path are returned unchanged.
func (r *Router) Relative(p string) string {
	if r.basePath == "/" {
		return "/" + strings.TrimLeft(p, "/")
	}
	rest, ok := strings.CutPrefix(p, r.basePath)
	if !ok || (rest != "" && rest[0] != '/') {
		return p
	}
	return "/" + strings.TrimLeft(rest, "/")
}

// Match finds the most specific route for p, a path relative to the base
// path. Among equally specific routes the first registered wins.
func (r *Router) Match(p string) (Match, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var best Match
	found := false
	for _, rt := range r.routes {
		m, ok := rt.match(p)
		if !ok {
			continue
		}
		if !found || len(m.Path) > len(best.Path) {
			best, found = m, true
		}
	}
	return best, found
}

// Resolve matches an absolute request path.
func (r *Router) Resolve(requestPath string) (Match, bool) {
	return r.Match(r.Relative(requestPath))
}

// Navigate records requestPath as the current location and publishes the
// matched params. Unmatched paths publish empty params.
func (r *Router) Navigate(requestPath string) (Match, bool) {
	rel := r.Relative(requestPath)
	m, ok := r.Match(rel)

	r.mutex.Lock()
	r.current = requestPath
	r.mutex.Unlock()

	params := map[string]string{}
	if ok {
		params = m.Params
	}
	r.state.SetState(map[string]any{"pathname": rel, "params": params})
	return m, ok
}

// Join prefixes to with the base path, collapsing duplicate slashes.
func (r *Router) Join(to string) string {
	full := r.basePath + "/" + to
	for strings.Contains(full, "//") {
		full = strings.ReplaceAll(full, "//", "/")
	}
	return full
}
