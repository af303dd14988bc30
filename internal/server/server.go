// Package server exposes browser sessions over HTTP: structured extraction
// from open pages, full browse runs and a websocket stream of loop events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxIterations   = 10
	schemaCacheEntries     = 256
)

// BrowserFactory launches a browser for a new session.
type BrowserFactory func(ctx context.Context) (browser.Browser, error)

// Server hosts the HTTP routes around a session registry.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	registry   *Registry
	cache      *schema.Cache
	hub        *Hub
	newBrowser BrowserFactory
	decider    agentbrowser.Decider

	reporter      agentbrowser.Reporter
	policy        agentbrowser.ActionPolicy
	maxFailures   int
	maxIterations int
}

// Option customizes a Server.
type Option func(*Server)

// WithReporter reports the trace of every browse run.
func WithReporter(r agentbrowser.Reporter) Option {
	return func(s *Server) { s.reporter = r }
}

// WithPolicy sets the action policy of browse runs.
func WithPolicy(p agentbrowser.ActionPolicy) Option {
	return func(s *Server) { s.policy = p }
}

// WithMaxConsecutiveFailures bounds invalid outputs in browse runs.
func WithMaxConsecutiveFailures(n int) Option {
	return func(s *Server) { s.maxFailures = n }
}

// WithDefaultMaxIterations applies when a browse request leaves maxIterations out.
func WithDefaultMaxIterations(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithRegistry replaces the registry built from cfg.MaxSessions.
func WithRegistry(r *Registry) Option {
	return func(s *Server) { s.registry = r }
}

// New creates a server. decider answers browse runs; newBrowser launches
// the browser of every new session.
func New(cfg config.ServerConfig, newBrowser BrowserFactory, decider agentbrowser.Decider, logger *zap.Logger, opts ...Option) *Server {
	logger = logger.Named("server")
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		cache:         schema.NewCache(schemaCacheEntries),
		hub:           NewHub(logger),
		newBrowser:    newBrowser,
		decider:       decider,
		policy:        agentbrowser.DefaultPolicy(),
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry(cfg.MaxSessions, logger)
	}
	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The websocket route stays outside the logging group so the connection can be hijacked.
	r.Get("/{browserSession}/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)

		r.Get("/healthz", s.handleHealth)
		r.Post("/browser/session", s.handleCreateSession)
		r.Delete("/{browserSession}", s.handleDeleteSession)
		r.Post("/{browserSession}/page", s.handleOpenPage)
		r.Post("/{browserSession}/page/{pageId}/get", s.handleGet)
		r.Post("/{browserSession}/page/{pageId}/browse", s.handleBrowse)
	})
	return r
}

// requestLogger logs every request through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and closes every browser session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("Server listening", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := s.registry.CloseAll(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}
