// Package profiler drives the sampling engines behind a start/stop/save
// session API. Only one session may be active per Sampler; the package
// default Sampler is shared by every middleware in the process because the
// Go runtime allows a single CPU profile and a single execution trace.
package profiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"
)

var (
	ErrSessionActive = errors.New("a profiling session is already active")
	ErrNotStopped    = errors.New("profiling session has not been stopped")
	ErrStopped       = errors.New("profiling session already stopped")
	ErrSaved         = errors.New("profiling session already saved")
)

// CPU profile rates, in Hz. defaultCPURate is what pprof.StartCPUProfile uses.
const (
	minCPURate     = 1
	maxCPURate     = 10000
	defaultCPURate = 100
)

// Writer persists a finished artifact under name.
type Writer interface {
	Write(ctx context.Context, name string, data []byte) error
}

// Metadata describes the request a session profiled. It is embedded in
// pprof output as profile comments.
type Metadata struct {
	Method    string
	Path      string
	RequestID string
	StartedAt time.Time
	Duration  time.Duration
}

// Profiler starts sessions.
type Profiler interface {
	Start(opts Options) (Session, error)
}

// Session is one running or finished capture. Stop must be called exactly
// once; Save may follow a successful Stop.
type Session interface {
	Stop() error
	Save(ctx context.Context, dst Writer, name string, meta Metadata) (int, error)
}

// Sampler is the production Profiler.
type Sampler struct {
	mu     sync.Mutex
	active *session
}

// NewSampler returns an idle Sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

var defaultSampler = NewSampler()

// Default returns the process-wide Sampler.
func Default() *Sampler {
	return defaultSampler
}

// Active reports whether a session is running.
func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Start begins a session with opts. opts must already be resolved.
func (s *Sampler) Start(opts Options) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrSessionActive
	}

	sess := &session{owner: s, mode: opts.Mode, buf: &bytes.Buffer{}}
	switch opts.Mode {
	case ModeWall:
		folded := opts.Extra[ExtraFormat] == "folded"
		sess.annotate = !folded
		sess.stop = startWall(sess.buf, opts.Interval, folded).stop
	case ModeCPU:
		// StartCPUProfile always asks for the default rate; when a different
		// rate was set first the runtime keeps it and prints "cannot set cpu
		// profile rate until previous profile has finished" to stderr. The
		// default rate skips the override and stays quiet.
		if hz, ok := cpuRateOverride(opts.Interval); ok {
			runtime.SetCPUProfileRate(hz)
		}
		if err := pprof.StartCPUProfile(sess.buf); err != nil {
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		sess.annotate = true
		sess.stop = func() error {
			pprof.StopCPUProfile()
			return nil
		}
	case ModeTrace:
		if err := trace.Start(sess.buf); err != nil {
			return nil, fmt.Errorf("start trace: %w", err)
		}
		sess.stop = func() error {
			trace.Stop()
			return nil
		}
	default:
		return nil, fmt.Errorf("unsupported profiler mode %q", opts.Mode)
	}

	s.active = sess
	return sess, nil
}

func (s *Sampler) release(sess *session) {
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
}

// cpuRate converts a sampling interval to the runtime's Hz setting.
func cpuRate(interval time.Duration) int {
	if interval <= 0 {
		return defaultCPURate
	}
	hz := int(time.Second / interval)
	return min(max(hz, minCPURate), maxCPURate)
}

// cpuRateOverride reports the rate to set before starting a CPU profile, if
// any.
func cpuRateOverride(interval time.Duration) (int, bool) {
	hz := cpuRate(interval)
	return hz, hz != defaultCPURate
}

type session struct {
	owner    *Sampler
	mode     Mode
	annotate bool

	mu      sync.Mutex
	buf     *bytes.Buffer
	stop    func() error
	stopped bool
	saved   bool
}

func (s *session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	s.stopped = true
	err := s.stop()
	s.owner.release(s)
	return err
}

func (s *session) Save(ctx context.Context, dst Writer, name string, meta Metadata) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.stopped:
		return 0, ErrNotStopped
	case s.saved:
		return 0, ErrSaved
	}
	s.saved = true

	data := s.buf.Bytes()
	if s.annotate {
		data = annotate(data, meta)
	}
	if err := dst.Write(ctx, name, data); err != nil {
		return 0, err
	}
	s.buf = nil
	return len(data), nil
}
