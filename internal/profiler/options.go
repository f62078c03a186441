package profiler

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/wudi/stackprof/internal/errors"
)

// Mode selects the sampling engine.
type Mode string

const (
	// ModeWall samples every goroutine on a wall-clock timer, including
	// goroutines blocked on I/O, locks or channels.
	ModeWall Mode = "wall"
	// ModeCPU samples only goroutines running on a CPU.
	ModeCPU Mode = "cpu"
	// ModeTrace records a runtime execution trace instead of samples.
	ModeTrace Mode = "trace"
)

// Modes lists the supported modes.
func Modes() []Mode {
	return []Mode{ModeWall, ModeCPU, ModeTrace}
}

func (m Mode) valid() bool {
	switch m {
	case ModeWall, ModeCPU, ModeTrace:
		return true
	}
	return false
}

// Extra keys understood by the sampler. Unknown keys are carried along and ignored.
const (
	ExtraMode     = "mode"
	ExtraInterval = "interval" // microseconds (number) or a duration string
	ExtraFormat   = "format"   // wall mode only: "pprof" or "folded"
)

// Options are passed to Start.
type Options struct {
	Mode     Mode
	Interval time.Duration
	Extra    map[string]any
}

// Resolve fills Mode and Interval from their defaults and then applies
// the mode and interval entries of Extra, which win over both.
func (o Options) Resolve(samplingInterval time.Duration) (Options, error) {
	out := Options{
		Mode:     o.Mode,
		Interval: o.Interval,
		Extra:    maps.Clone(o.Extra),
	}
	if out.Mode == "" {
		out.Mode = ModeWall
	}
	if out.Interval <= 0 {
		out.Interval = samplingInterval
	}

	if v, ok := out.Extra[ExtraMode]; ok {
		s, ok := v.(string)
		if !ok {
			return Options{}, errors.InvalidOption("profiler.mode", v)
		}
		out.Mode = Mode(s)
	}
	if v, ok := out.Extra[ExtraInterval]; ok {
		d, err := parseInterval(v)
		if err != nil {
			return Options{}, err
		}
		out.Interval = d
	}

	if !out.Mode.valid() {
		return Options{}, errors.InvalidOption("profiler.mode", out.Mode)
	}
	if out.Interval <= 0 {
		return Options{}, errors.InvalidOption("profiler.interval", out.Interval)
	}
	if f, ok := out.Extra[ExtraFormat]; ok && f != "pprof" && f != "folded" {
		return Options{}, errors.InvalidOption("profiler.format", f)
	}
	return out, nil
}

// parseInterval accepts the shapes a YAML or Go caller may hand over:
// plain numbers are microseconds, strings are parsed as durations.
func parseInterval(v any) (time.Duration, error) {
	switch n := v.(type) {
	case time.Duration:
		return n, nil
	case int:
		return time.Duration(n) * time.Microsecond, nil
	case int64:
		return time.Duration(n) * time.Microsecond, nil
	case uint64:
		return time.Duration(n) * time.Microsecond, nil
	case float64:
		return time.Duration(n * float64(time.Microsecond)), nil
	case string:
		if us, err := strconv.ParseInt(n, 10, 64); err == nil {
			return time.Duration(us) * time.Microsecond, nil
		}
		d, err := time.ParseDuration(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", errors.InvalidOption("profiler.interval", n), err)
		}
		return d, nil
	}
	return 0, errors.InvalidOption("profiler.interval", v)
}
