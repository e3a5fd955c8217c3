// Package server runs the preview server: it maps URL routes to template
// files, renders them against the current data, and reloads connected
// browsers when templates or data change.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/nanorender/internal/config"
	"github.com/conneroisu/nanorender/internal/data"
	"github.com/conneroisu/nanorender/internal/errors"
	"github.com/conneroisu/nanorender/internal/livereload"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/renderer"
	"github.com/conneroisu/nanorender/internal/router"
	"github.com/conneroisu/nanorender/internal/store"
)

// Options wires the server's collaborators. Config, Engine and Loader are
// required. A nil Hub disables live reload.
type Options struct {
	Config     *config.Config
	Engine     *renderer.Engine
	Loader     *loader.Loader
	Data       *store.Store
	DataLoader *data.Loader
	Hub        *livereload.Hub
	Logger     logging.Logger
}

// PreviewServer serves rendered templates.
type PreviewServer struct {
	config     *config.Config
	engine     *renderer.Engine
	loader     *loader.Loader
	data       *store.Store
	dataLoader *data.Loader
	hub        *livereload.Hub
	logger     logging.Logger

	router   *router.Router
	routes   map[string]config.RouteConfig
	markdown goldmark.Markdown
	titler   cases.Caser
	failures *errors.ErrorCollector

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	unsubscribe  func()
	shutdownOnce sync.Once
}

// New builds a server from opts and registers the configured routes.
func New(opts Options) (*PreviewServer, error) {
	if opts.Config == nil || opts.Engine == nil || opts.Loader == nil {
		return nil, fmt.Errorf("preview server needs a config, an engine and a loader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	state := opts.Data
	if state == nil {
		state = store.New(nil)
	}
	dataLoader := opts.DataLoader
	if dataLoader == nil {
		dataLoader = data.NewLoader(nil, opts.Config.Data.MaxItems)
	}

	s := &PreviewServer{
		config:     opts.Config,
		engine:     opts.Engine,
		loader:     opts.Loader,
		data:       state,
		dataLoader: dataLoader,
		hub:        opts.Hub,
		logger:     logger.WithComponent("server"),
		router:     router.New(opts.Config.Server.BasePath),
		routes:     make(map[string]config.RouteConfig, len(opts.Config.Routes)),
		markdown:   newMarkdown(),
		titler:     cases.Title(language.English),
		failures:   errors.NewErrorCollector(),
	}

	for _, route := range opts.Config.Routes {
		if _, dup := s.routes[route.Path]; dup {
			continue
		}
		s.routes[route.Path] = route
		s.router.Register(route.Path)
	}

	// Any data change reloads every open page.
	s.unsubscribe = s.data.Subscribe(func(map[string]any) {
		s.reload(opts.Config.Data.File)
	})

	return s, nil
}

// Router exposes the route table.
func (s *PreviewServer) Router() *router.Router {
	return s.router
}

// Handler returns the full HTTP handler including middleware.
func (s *PreviewServer) Handler() http.Handler {
	base := strings.TrimSuffix(s.router.BasePath(), "/")

	mux := http.NewServeMux()
	if s.hub != nil {
		mux.Handle(base+livereload.DefaultPath, s.hub)
	}
	mux.HandleFunc(base+"/_health", s.handleHealth)
	mux.HandleFunc("/", s.handlePage)

	return chain(mux,
		recoverer(s.logger),
		requestLogger(s.logger),
		requestID,
		securityHeaders,
	)
}

// Start listens on the configured address until ctx is cancelled.
func (s *PreviewServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Server.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.Address(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *PreviewServer) Serve(ctx context.Context, listener net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Shutdown failed")
		}
	}()

	s.logger.Info(ctx, "Preview server listening", "address", "http://"+listener.Addr().String()+s.router.BasePath(),
		"routes", len(s.routes))

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and the live reload hub.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.hub != nil {
			_ = s.hub.Shutdown(ctx)
		}

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}
	})
	return err
}

func (s *PreviewServer) reload(path string) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Reload(path); err != nil {
		s.logger.Debug(context.Background(), "Live reload not sent", "error", err.Error())
	}
}
