// Package stackprof profiles a sample of HTTP requests. At most one request
// per profile interval is wrapped in a profiling session; the resulting
// artifact is written to the result directory under a name that encodes the
// capture time, process, request and duration. Every other request passes
// straight through.
package stackprof

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/stackprof/config"
	"github.com/wudi/stackprof/internal/errors"
	"github.com/wudi/stackprof/internal/logging"
	"github.com/wudi/stackprof/internal/metrics"
	"github.com/wudi/stackprof/internal/middleware"
	"github.com/wudi/stackprof/internal/profiler"
	"github.com/wudi/stackprof/internal/storage"
)

// DefaultSaveTimeout bounds how long persisting one artifact may take.
const DefaultSaveTimeout = 30 * time.Second

// Options configure a Stackprof. The first three fields are required.
type Options struct {
	ProfileInterval  time.Duration
	SamplingInterval time.Duration
	ResultDirectory  string

	// Path eligibility. IncludePattern wins over IncludePath; IncludeGlob,
	// when set, must also match.
	IncludePath    string
	IncludePattern *regexp.Regexp
	IncludeGlob    string

	// Profiler mode and interval default to wall and SamplingInterval.
	Profiler    profiler.Options
	SaveTimeout time.Duration

	// Collaborators. Nil values select the production implementations.
	Engine  profiler.Profiler
	Store   storage.Store
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Now     func() time.Time
	Pid     int
}

// OptionsFromConfig converts the YAML configuration into Options.
func OptionsFromConfig(cfg config.StackprofConfig) Options {
	return Options{
		ProfileInterval:  time.Duration(cfg.ProfileIntervalSeconds) * time.Second,
		SamplingInterval: time.Duration(cfg.SamplingIntervalMicroseconds) * time.Microsecond,
		ResultDirectory:  cfg.ResultDirectory,
		IncludePath:      cfg.ProfileIncludePath,
		IncludeGlob:      cfg.ProfileIncludeGlob,
		Profiler: profiler.Options{
			Mode:  profiler.Mode(cfg.Profiler.Mode),
			Extra: cfg.Profiler.Options,
		},
		SaveTimeout: cfg.SaveTimeout,
	}
}

// Stackprof is the sampling middleware.
type Stackprof struct {
	gate        *Gate
	profOpts    profiler.Options
	engine      profiler.Profiler
	store       storage.Store
	ownsStore   bool
	location    string
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time
	pid         int
	saveTimeout time.Duration

	captured        atomic.Int64
	skippedInterval atomic.Int64
	skippedPath     atomic.Int64
	profilerErrors  atomic.Int64
	saved           atomic.Int64
}

// New validates opts and builds the middleware. Configuration problems are
// returned here, before any request is served.
func New(ctx context.Context, opts Options) (*Stackprof, error) {
	if opts.ProfileInterval <= 0 {
		return nil, errors.MissingOption("profile_interval_seconds")
	}
	if opts.SamplingInterval <= 0 {
		return nil, errors.MissingOption("sampling_interval_microseconds")
	}
	if opts.ResultDirectory == "" && opts.Store == nil {
		return nil, errors.MissingOption("result_directory")
	}

	matcher, err := NewPathMatcher(opts.IncludePath, opts.IncludePattern, opts.IncludeGlob)
	if err != nil {
		return nil, err
	}
	profOpts, err := opts.Profiler.Resolve(opts.SamplingInterval)
	if err != nil {
		return nil, err
	}

	s := &Stackprof{
		gate:        NewGate(opts.ProfileInterval, matcher),
		profOpts:    profOpts,
		engine:      opts.Engine,
		store:       opts.Store,
		location:    opts.ResultDirectory,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		pid:         opts.Pid,
		saveTimeout: opts.SaveTimeout,
	}
	if s.engine == nil {
		s.engine = profiler.Default()
	}
	if s.logger == nil {
		s.logger = logging.Global()
	}
	s.logger = s.logger.With(zap.String("component", "stackprof"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.pid == 0 {
		s.pid = os.Getpid()
	}
	if s.saveTimeout <= 0 {
		s.saveTimeout = DefaultSaveTimeout
	}
	if s.store == nil {
		bs, err := storage.Open(ctx, opts.ResultDirectory)
		if err != nil {
			return nil, fmt.Errorf("stackprof: result directory: %w", err)
		}
		s.store = bs
		s.ownsStore = true
		s.location = bs.Location()
	}

	s.logger.Info("request profiling enabled",
		zap.Duration("profile_interval", opts.ProfileInterval),
		zap.Duration("sampling_interval", profOpts.Interval),
		zap.String("mode", string(profOpts.Mode)),
		zap.String("result_directory", s.location),
	)
	return s, nil
}

// Middleware returns the request-path middleware.
func (s *Stackprof) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := s.now()
			switch s.gate.TryClaim(now, r.URL.Path) {
			case SkipPath:
				s.skippedPath.Add(1)
				s.recordDecision(metrics.DecisionSkippedPath)
				next.ServeHTTP(w, r)
			case SkipInterval:
				s.skippedInterval.Add(1)
				s.recordDecision(metrics.DecisionSkippedInterval)
				next.ServeHTTP(w, r)
			default:
				s.captured.Add(1)
				s.recordDecision(metrics.DecisionCaptured)
				s.serveProfiled(w, r, next, now)
			}
		})
	}
}

// serveProfiled brackets next with a profiling session. Profiler failures
// are logged and counted; next runs and its outcome, panics included,
// reaches the caller unchanged.
func (s *Stackprof) serveProfiled(w http.ResponseWriter, r *http.Request, next http.Handler, capturedAt time.Time) {
	started := time.Now()
	sess, err := s.engine.Start(s.profOpts)
	if err != nil {
		s.profilerFailed(metrics.OpStart, err, r)
		next.ServeHTTP(w, r)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	s.logger.Debug("profiling request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("mode", string(s.profOpts.Mode)),
	)

	defer s.finish(sess, r, capturedAt, started)
	next.ServeHTTP(w, r)
}

// finish stops the session and persists the artifact. It runs on every exit
// path of the downstream handler. It does not recover, so a downstream
// panic keeps unwinding once the artifact is written.
func (s *Stackprof) finish(sess profiler.Session, r *http.Request, capturedAt, started time.Time) {
	var (
		elapsed time.Duration
		written int
	)
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordCapture(elapsed, written)
		}
	}()

	stopErr := sess.Stop()
	elapsed = time.Since(started)
	if stopErr != nil {
		s.profilerFailed(metrics.OpStop, stopErr, r)
		return
	}

	name := Name(capturedAt, s.pid, r.Method, r.URL.Path, elapsed)
	meta := profiler.Metadata{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: r.Header.Get(middleware.RequestIDHeader),
		StartedAt: capturedAt,
		Duration:  elapsed,
	}

	// The client may be gone; the artifact is still worth keeping.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.saveTimeout)
	defer cancel()

	n, err := sess.Save(ctx, s.store, name, meta)
	if err != nil {
		s.profilerFailed(metrics.OpSave, err, r)
		return
	}
	written = n
	s.saved.Add(1)
	s.logger.Info("profile saved",
		zap.String("artifact", name),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("duration", elapsed),
		zap.Int("bytes", n),
	)
}

func (s *Stackprof) profilerFailed(op string, err error, r *http.Request) {
	s.profilerErrors.Add(1)
	if s.metrics != nil {
		s.metrics.RecordProfilerError(op)
	}
	s.logger.Warn("profiler failure ignored",
		zap.String("op", op),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(errors.Profiler(op, err)),
	)
}

func (s *Stackprof) recordDecision(d string) {
	if s.metrics != nil {
		s.metrics.RecordDecision(d)
	}
}

// Gate exposes the admission gate.
func (s *Stackprof) Gate() *Gate {
	return s.gate
}

// Store returns the artifact store.
func (s *Stackprof) Store() storage.Store {
	return s.store
}

// Close releases the artifact store when New opened it.
func (s *Stackprof) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// Stats returns counters for the debug endpoint.
func (s *Stackprof) Stats() map[string]interface{} {
	result := map[string]interface{}{
		"captured":          s.captured.Load(),
		"saved":             s.saved.Load(),
		"skipped_interval":  s.skippedInterval.Load(),
		"skipped_path":      s.skippedPath.Load(),
		"profiler_errors":   s.profilerErrors.Load(),
		"profile_interval":  s.gate.Interval().String(),
		"sampling_interval": s.profOpts.Interval.String(),
		"mode":              string(s.profOpts.Mode),
		"result_directory":  s.location,
	}
	if last, ok := s.gate.LastCapturedAt(); ok {
		result["last_captured_at"] = last.UTC().Format(time.RFC3339)
	}
	return result
}
