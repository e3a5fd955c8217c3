package renderer

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/security"
)

// DefaultCacheSize is the number of compiled templates kept by NewEngine.
const DefaultCacheSize = 512

// Engine compiles and renders templates, memoizing compiled templates by
// their exact source. An Engine is safe for concurrent use.
type Engine struct {
	cache  *Cache
	policy *security.Policy
	logger logging.Logger
	parses atomic.Int64

	cacheSize int
	cacheTTL  time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheSize bounds the compiled-template cache. Zero or less keeps every
// template for the life of the engine.
func WithCacheSize(n int) EngineOption {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithCacheTTL expires cached templates d after they were compiled.
func WithCacheTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.cacheTTL = d
	}
}

// WithLogger sets the logger used for compile timing and sanitizer warnings.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPolicy sets the sanitizer policy applied to {{{safe ...}}} tags.
func WithPolicy(p *security.Policy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// NewEngine creates an Engine. Without options it caches DefaultCacheSize
// templates and uses the default sanitizer policy.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		policy:    security.NewPolicy(),
		logger:    logging.NewNopLogger(),
		cacheSize: DefaultCacheSize,
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.WithComponent("renderer")
	e.cache = NewCache(e.cacheSize, e.cacheTTL)

	return e
}

// Compile returns the compiled form of src, parsing it only on a cache miss.
// Parse errors are returned and never cached.
func (e *Engine) Compile(src string) (*CompiledTemplate, error) {
	return e.cache.GetOrCompile(src, e.parse)
}

func (e *Engine) parse(src string) (*CompiledTemplate, error) {
	e.parses.Add(1)
	perf := logging.StartOperation(e.logger, "compile")

	t, err := Parse(src)
	if err != nil {
		perf.EndWithError(context.Background(), err)
		return nil, err
	}

	perf.End(context.Background(), "nodes", len(t.Nodes), "bytes", len(src))
	return t, nil
}

// Render compiles src and renders it against data. On error no partial
// output is returned.
func (e *Engine) Render(src string, data any) (string, error) {
	var b strings.Builder
	if err := e.RenderTo(&b, src, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderTo compiles src and streams the output to w. If w fails part way
// the output written so far stays in w.
func (e *Engine) RenderTo(w io.Writer, src string, data any) error {
	t, err := e.Compile(src)
	if err != nil {
		return err
	}
	return e.Execute(w, t, data)
}

// Execute renders an already compiled template with this engine's policy.
func (e *Engine) Execute(w io.Writer, t *CompiledTemplate, data any) error {
	return t.execute(w, data, env{policy: e.policy, logger: e.logger})
}

// RenderOrDiagnostic renders src, replacing the whole output with an HTML
// comment describing the error when compilation fails. It is for hosts that
// must always produce markup.
func (e *Engine) RenderOrDiagnostic(src string, data any) string {
	out, err := e.Render(src, data)
	if err != nil {
		e.logger.Warn(context.Background(), err, "Template failed to render")
		return Diagnostic(err)
	}
	return out
}

// Diagnostic formats err as an HTML comment placeholder.
func Diagnostic(err error) string {
	msg := strings.ReplaceAll(err.Error(), "--", "- -")
	return "<!-- nanorender: " + EscapeHTML(msg) + " -->"
}

// Invalidate drops src from the cache.
func (e *Engine) Invalidate(src string) bool {
	return e.cache.Invalidate(src)
}

// ClearCache drops every cached template and resets the statistics.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.parses.Store(0)
}

// Stats reports cache activity and how many times the parser ran.
func (e *Engine) Stats() CacheStats {
	s := e.cache.Stats()
	s.Parses = e.parses.Load()
	return s
}

// Policy returns the sanitizer policy in use.
func (e *Engine) Policy() *security.Policy {
	return e.policy
}

var defaultEngine = NewEngine()

// Render renders src against data with a process-wide engine.
func Render(src string, data any) (string, error) {
	return defaultEngine.Render(src, data)
}
