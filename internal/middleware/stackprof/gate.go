package stackprof

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Admit Decision = iota
	SkipPath
	SkipInterval
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case SkipPath:
		return "skip_path"
	case SkipInterval:
		return "skip_interval"
	}
	return "unknown"
}

// Gate rate-limits captures to one per interval across all requests handled
// by one middleware instance.
type Gate struct {
	interval time.Duration
	matcher  PathMatcher

	mu   sync.Mutex
	last time.Time // zero until the first capture
}

// NewGate creates a gate. A nil matcher admits every path.
func NewGate(interval time.Duration, matcher PathMatcher) *Gate {
	if matcher == nil {
		matcher = matchAll{}
	}
	return &Gate{interval: interval, matcher: matcher}
}

// ShouldCapture reports whether a request for path at now would be admitted.
// It does not change the gate.
func (g *Gate) ShouldCapture(now time.Time, path string) bool {
	return g.Evaluate(now, path) == Admit
}

// Evaluate is ShouldCapture with the reason for a refusal.
func (g *Gate) Evaluate(now time.Time, path string) Decision {
	if !g.matcher.Match(path) {
		return SkipPath
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked(now)
}

func (g *Gate) evaluateLocked(now time.Time) Decision {
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return SkipInterval
	}
	return Admit
}

// TryClaim evaluates the gate and, when the request is admitted, records
// now as the last capture before returning. Concurrent callers inside one
// interval see exactly one Admit.
func (g *Gate) TryClaim(now time.Time, path string) Decision {
	if !g.matcher.Match(path) {
		return SkipPath
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.evaluateLocked(now)
	if d == Admit {
		g.last = now
	}
	return d
}

// LastCapturedAt returns the time of the latest claimed capture.
func (g *Gate) LastCapturedAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, !g.last.IsZero()
}

// Interval returns the minimum gap between captures.
func (g *Gate) Interval() time.Duration {
	return g.interval
}
