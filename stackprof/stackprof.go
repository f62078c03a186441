// Package stackprof is the public API: a middleware that profiles at most
// one HTTP request per interval, and a builder for a server that mounts it.
package stackprof

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wudi/stackprof/config"
	"github.com/wudi/stackprof/internal/metrics"
	isp "github.com/wudi/stackprof/internal/middleware/stackprof"
	"github.com/wudi/stackprof/internal/profiler"
	"github.com/wudi/stackprof/internal/server"
	"github.com/wudi/stackprof/internal/storage"
)

// Middleware is a function that wraps an http.Handler.
type Middleware = func(http.Handler) http.Handler

type (
	// Options configure the profiling middleware. Store and Metrics take the
	// Store and Collector types below.
	Options = isp.Options
	// Stackprof is a configured profiling middleware.
	Stackprof = isp.Stackprof
	// ProfilerOptions select the sampling engine and its parameters.
	ProfilerOptions = profiler.Options
	// Profiler is the engine contract; tests may substitute their own.
	Profiler = profiler.Profiler
	// Config is the YAML configuration.
	Config = config.Config
	// Store holds profile artifacts.
	Store = storage.Store
	// Artifact describes a stored profile.
	Artifact = storage.Artifact
	// Collector exports profiling metrics to Prometheus.
	Collector = metrics.Collector
)

// OpenStore opens a local result directory or a bucket URL (mem://, s3://,
// file://).
func OpenStore(ctx context.Context, resultDirectory string) (Store, error) {
	s, err := storage.Open(ctx, resultDirectory)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewCollector registers the profiling metrics on reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	return metrics.NewCollectorWithRegistry(reg)
}

// Profiler modes.
const (
	ModeWall  = profiler.ModeWall
	ModeCPU   = profiler.ModeCPU
	ModeTrace = profiler.ModeTrace
)

// New builds the profiling middleware. See Options for the required fields.
func New(ctx context.Context, opts Options) (*Stackprof, error) {
	return isp.New(ctx, opts)
}

// Wrap is a convenience for New followed by Middleware.
func Wrap(ctx context.Context, opts Options, next http.Handler) (http.Handler, *Stackprof, error) {
	sp, err := isp.New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return sp.Middleware()(next), sp, nil
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// ServerBuilder constructs a Server around an application handler.
type ServerBuilder struct {
	cfg        *Config
	app        http.Handler
	middleware []Middleware
	metrics    *metrics.Collector
}

// NewServer creates a ServerBuilder for cfg.
func NewServer(cfg *Config) *ServerBuilder {
	return &ServerBuilder{cfg: cfg}
}

// WithApp sets the application handler that requests are profiled against.
func (b *ServerBuilder) WithApp(h http.Handler) *ServerBuilder {
	b.app = h
	return b
}

// AddMiddleware appends middleware that runs inside the profiling session.
func (b *ServerBuilder) AddMiddleware(mw ...Middleware) *ServerBuilder {
	b.middleware = append(b.middleware, mw...)
	return b
}

// WithRegistry registers the profiling metrics on reg instead of a private
// registry.
func (b *ServerBuilder) WithRegistry(reg *prometheus.Registry) *ServerBuilder {
	b.metrics = metrics.NewCollectorWithRegistry(reg)
	return b
}

// Build constructs a ready-to-run Server.
func (b *ServerBuilder) Build(ctx context.Context) (*Server, error) {
	opts := server.Options{App: b.app, Metrics: b.metrics}
	for _, mw := range b.middleware {
		opts.Middleware = append(opts.Middleware, mw)
	}
	srv, err := server.NewServer(ctx, b.cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Server{internal: srv}, nil
}

// Server wraps the internal server with a public API.
type Server struct {
	internal *server.Server
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	return s.internal.Run()
}

// Start starts the server without blocking.
func (s *Server) Start() error {
	return s.internal.Start()
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.internal.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.internal.Shutdown(timeout)
}

// Handler returns the server's root http.Handler, useful for testing
// or embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.internal.Handler()
}

// Stackprof returns the profiling middleware, nil when disabled.
func (s *Server) Stackprof() *Stackprof {
	return s.internal.Stackprof()
}
