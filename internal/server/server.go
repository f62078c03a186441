// Package server assembles the HTTP server: the middleware chain around the
// application handler, the debug endpoint and the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/wudi/stackprof/config"
	"github.com/wudi/stackprof/internal/logging"
	"github.com/wudi/stackprof/internal/metrics"
	"github.com/wudi/stackprof/internal/middleware"
	"github.com/wudi/stackprof/internal/middleware/debug"
	"github.com/wudi/stackprof/internal/middleware/stackprof"
)

// Options carry what the public builder collects besides the config.
type Options struct {
	App        http.Handler
	Middleware []middleware.Middleware
	Metrics    *metrics.Collector
}

// Server owns the listener and everything mounted on it.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	handler    http.Handler
	stackprof  *stackprof.Stackprof
	metrics    *metrics.Collector
	debug      *debug.Handler
	listener   net.Listener
	errCh      chan error
}

// NewServer builds the handler tree for cfg. Configuration errors from the
// profiling middleware are returned here.
func NewServer(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{
		config:  cfg,
		metrics: opts.Metrics,
		errCh:   make(chan error, 1),
	}
	if s.metrics == nil && cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector()
	}

	app := opts.App
	if app == nil {
		app = http.NotFoundHandler()
	}

	builder := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		UseIf(cfg.Logging.AccessLog, middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    logging.Global(),
			SkipPaths: []string{"/healthz"},
		}))

	if cfg.Stackprof.Enabled {
		spOpts := stackprof.OptionsFromConfig(cfg.Stackprof)
		spOpts.Metrics = s.metrics
		sp, err := stackprof.New(ctx, spOpts)
		if err != nil {
			return nil, fmt.Errorf("stackprof: %w", err)
		}
		s.stackprof = sp
		builder.Use(sp.Middleware())
	}
	for _, mw := range opts.Middleware {
		builder.Use(mw)
	}
	wrapped := builder.Handler(app)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled && s.metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics.Handler())
	}
	mux.Handle("/", wrapped)
	s.handler = mux

	// The debug prefix is checked first so its requests never reach the
	// profiled chain.
	if cfg.DebugEndpoint.Enabled {
		var src debug.Source
		if s.stackprof != nil {
			src = s.stackprof
		}
		s.debug = debug.New(cfg.DebugEndpoint, cfg, src)
		s.debug.SetServerInfo(s.Stats)
		dh := gzhttp.GzipHandler(s.debug)
		s.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.debug.Matches(r.URL.Path) {
				dh.ServeHTTP(w, r)
				return
			}
			mux.ServeHTTP(w, r)
		})
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Listener.Address,
		Handler:      s.handler,
		ReadTimeout:  cfg.Listener.ReadTimeout,
		WriteTimeout: cfg.Listener.WriteTimeout,
		IdleTimeout:  cfg.Listener.IdleTimeout,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Stackprof returns the profiling middleware, nil when disabled.
func (s *Server) Stackprof() *stackprof.Stackprof {
	return s.stackprof
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Listener.Address
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listener.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listener.Address, err)
	}
	s.listener = ln

	logging.Info("Starting HTTP server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("stackprof", s.stackprof != nil),
	)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()
	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-s.errCh:
		s.Shutdown(s.shutdownTimeout())
		return err
	case sig := <-quit:
		logging.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	}
	return s.Shutdown(s.shutdownTimeout())
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Listener.ShutdownTimeout > 0 {
		return s.config.Listener.ShutdownTimeout
	}
	return 15 * time.Second
}

// Shutdown drains in-flight requests, which lets their profiles finish
// saving, then releases the artifact store.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if s.listener != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logging.Error("HTTP server shutdown error", zap.Error(err))
			firstErr = err
		}
	}
	if s.stackprof != nil {
		if err := s.stackprof.Close(); err != nil {
			logging.Error("Artifact store close error", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logging.Info("Server shutdown complete")
	return firstErr
}

// Stats summarizes the mounted components.
func (s *Server) Stats() map[string]interface{} {
	out := map[string]interface{}{
		"address":  s.Addr(),
		"metrics":  s.metrics != nil,
		"debug":    s.debug != nil,
		"profiled": s.stackprof != nil,
	}
	if s.debug != nil {
		out["debug_path"] = s.debug.Path()
	}
	return out
}
