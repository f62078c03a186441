package profiler

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// defaultWallInterval is used when a session starts without an interval.
const defaultWallInterval = 10 * time.Millisecond

// wallSampler takes a goroutine profile every interval and counts how often
// each stack is seen, running or not.
type wallSampler struct {
	interval time.Duration
	folded   bool
	out      io.Writer

	started time.Time
	stopCh  chan struct{}
	done    chan struct{}

	records []runtime.StackRecord
	stacks  map[string]*wallStack
}

type wallStack struct {
	pcs   []uintptr
	count int64
}

func startWall(out io.Writer, interval time.Duration, folded bool) *wallSampler {
	if interval <= 0 {
		interval = defaultWallInterval
	}
	w := &wallSampler{
		interval: interval,
		folded:   folded,
		out:      out,
		started:  time.Now(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		stacks:   make(map[string]*wallStack),
	}
	go w.run()
	return w
}

func (w *wallSampler) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sample()
		case <-w.stopCh:
			return
		}
	}
}

func (w *wallSampler) sample() {
	n, ok := runtime.GoroutineProfile(w.records)
	for !ok {
		w.records = make([]runtime.StackRecord, n+n/10+8)
		n, ok = runtime.GoroutineProfile(w.records)
	}

	var key []byte
	for _, rec := range w.records[:n] {
		pcs := rec.Stack()
		key = key[:0]
		for _, pc := range pcs {
			key = binary.LittleEndian.AppendUint64(key, uint64(pc))
		}
		st, ok := w.stacks[string(key)]
		if !ok {
			st = &wallStack{pcs: slices.Clone(pcs)}
			w.stacks[string(key)] = st
		}
		st.count++
	}
}

// stop ends sampling and writes the result to out.
func (w *wallSampler) stop() error {
	close(w.stopCh)
	<-w.done

	if w.folded {
		return w.writeFolded()
	}
	return w.profile().Write(w.out)
}

type wallFrame struct {
	function string
	file     string
	line     int
	pc       uintptr
}

// frames expands pcs leaf first. Stacks of the sampler goroutine itself
// report false.
func frames(pcs []uintptr) ([]wallFrame, bool) {
	var out []wallFrame
	iter := runtime.CallersFrames(pcs)
	for {
		f, more := iter.Next()
		if strings.HasSuffix(f.Function, "profiler.(*wallSampler).run") {
			return nil, false
		}
		out = append(out, wallFrame{function: f.Function, file: f.File, line: f.Line, pc: f.PC})
		if !more {
			return out, true
		}
	}
}

func (w *wallSampler) profile() *profile.Profile {
	elapsed := time.Since(w.started)
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "wallclock", Unit: "nanoseconds"},
		Period:        int64(w.interval),
		TimeNanos:     w.started.UnixNano(),
		DurationNanos: int64(elapsed),
	}

	funcs := make(map[string]*profile.Function)
	locs := make(map[string]*profile.Location)
	for _, st := range w.stacks {
		fs, ok := frames(st.pcs)
		if !ok {
			continue
		}
		sample := &profile.Sample{Value: []int64{st.count, st.count * int64(w.interval)}}
		for _, f := range fs {
			fn, ok := funcs[f.function]
			if !ok {
				fn = &profile.Function{
					ID:         uint64(len(p.Function) + 1),
					Name:       f.function,
					SystemName: f.function,
					Filename:   f.file,
				}
				funcs[f.function] = fn
				p.Function = append(p.Function, fn)
			}
			lk := fmt.Sprintf("%s:%d", f.function, f.line)
			loc, ok := locs[lk]
			if !ok {
				loc = &profile.Location{
					ID:      uint64(len(p.Location) + 1),
					Address: uint64(f.pc),
					Line:    []profile.Line{{Function: fn, Line: int64(f.line)}},
				}
				locs[lk] = loc
				p.Location = append(p.Location, loc)
			}
			sample.Location = append(sample.Location, loc)
		}
		p.Sample = append(p.Sample, sample)
	}
	return p
}

// writeFolded writes one "root;...;leaf count" line per stack.
func (w *wallSampler) writeFolded() error {
	lines := make([]string, 0, len(w.stacks))
	for _, st := range w.stacks {
		fs, ok := frames(st.pcs)
		if !ok {
			continue
		}
		names := make([]string, len(fs))
		for i, f := range fs {
			names[len(fs)-1-i] = f.function
		}
		lines = append(lines, fmt.Sprintf("%s %d", strings.Join(names, ";"), st.count))
	}
	slices.Sort(lines)

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	_, err := w.out.Write(buf.Bytes())
	return err
}
