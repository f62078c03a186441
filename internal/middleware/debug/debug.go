// Package debug serves read-only introspection for the profiling middleware:
// gate counters, runtime stats and the stored profile artifacts.
package debug

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/stackprof/config"
	"github.com/wudi/stackprof/internal/errors"
	"github.com/wudi/stackprof/internal/logging"
	"github.com/wudi/stackprof/internal/middleware"
	"github.com/wudi/stackprof/internal/storage"
)

var startTime = time.Now()

// Source is what the handler reports on. *stackprof.Stackprof satisfies it.
type Source interface {
	Stats() map[string]interface{}
	Store() storage.Store
}

// Handler serves debug endpoint sub-paths.
type Handler struct {
	path   string
	config *config.Config
	source Source
	server func() map[string]interface{}
	logger *zap.Logger
}

// New creates a debug handler. source may be nil when profiling is disabled.
func New(cfg config.DebugEndpointConfig, appConfig *config.Config, source Source) *Handler {
	path := cfg.Path
	if path == "" {
		path = "/__debug"
	}
	return &Handler{
		path:   strings.TrimRight(path, "/"),
		config: appConfig,
		source: source,
		logger: logging.With(zap.String("component", "debug")),
	}
}

// SetServerInfo sets a callback whose result is reported in the index.
func (h *Handler) SetServerInfo(fn func() map[string]interface{}) {
	h.server = fn
}

// Path returns the configured debug endpoint path.
func (h *Handler) Path() string {
	return h.path
}

// Matches returns true if the request path starts with the debug prefix.
func (h *Handler) Matches(path string) bool {
	return path == h.path || strings.HasPrefix(path, h.path+"/")
}

// ServeHTTP handles debug endpoint requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.fail(w, r, errors.ErrMethodNotAllowed)
		return
	}

	sub := strings.TrimPrefix(r.URL.Path, h.path)
	sub = strings.TrimPrefix(sub, "/")

	switch {
	case sub == "":
		h.handleIndex(w, r)
	case sub == "stackprof":
		h.handleStackprof(w, r)
	case sub == "config":
		h.handleConfig(w, r)
	case sub == "runtime":
		h.handleRuntime(w, r)
	case sub == "profiles":
		h.handleProfiles(w, r)
	case strings.HasPrefix(sub, "profiles/"):
		h.handleProfile(w, r, strings.TrimPrefix(sub, "profiles/"))
	default:
		h.fail(w, r, errors.ErrNotFound)
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{
		"endpoints": []string{
			h.path + "/stackprof",
			h.path + "/config",
			h.path + "/runtime",
			h.path + "/profiles",
		},
		"profiling": h.source != nil,
		"debug":     h.Stats(),
	}
	if h.server != nil {
		result["server"] = h.server()
	}
	writeJSON(w, result)
}

func (h *Handler) handleStackprof(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeJSON(w, map[string]interface{}{"enabled": false})
		return
	}
	stats := h.source.Stats()
	stats["enabled"] = true
	writeJSON(w, stats)
}

// handleConfig returns the effective profiling configuration.
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		writeJSON(w, map[string]interface{}{})
		return
	}
	sp := h.config.Stackprof
	writeJSON(w, map[string]interface{}{
		"listener": h.config.Listener.Address,
		"stackprof": map[string]interface{}{
			"enabled":                        sp.Enabled,
			"profile_interval_seconds":       sp.ProfileIntervalSeconds,
			"sampling_interval_microseconds": sp.SamplingIntervalMicroseconds,
			"result_directory":               sp.ResultDirectory,
			"profile_include_path":           sp.ProfileIncludePath,
			"profile_include_glob":           sp.ProfileIncludeGlob,
			"save_timeout":                   sp.SaveTimeout.String(),
			"mode":                           sp.Profiler.Mode,
		},
		"metrics": h.config.Metrics.Enabled,
	})
}

// handleRuntime returns Go runtime stats.
func (h *Handler) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"cpus":           runtime.NumCPU(),
		"go_version":     runtime.Version(),
		"uptime_seconds": time.Since(startTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":      mem.Alloc,
			"sys_bytes":        mem.Sys,
			"heap_inuse_bytes": mem.HeapInuse,
			"heap_objects":     mem.HeapObjects,
		},
		"gc": map[string]interface{}{
			"num_gc":         mem.NumGC,
			"pause_total_ns": mem.PauseTotalNs,
			"next_gc_bytes":  mem.NextGC,
		},
	})
}

func (h *Handler) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeJSON(w, map[string]interface{}{"profiles": []storage.Artifact{}})
		return
	}
	list, err := h.source.Store().List(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, http.StatusInternalServerError, "Listing profiles failed"))
		return
	}
	if list == nil {
		list = []storage.Artifact{}
	}
	writeJSON(w, map[string]interface{}{"profiles": list})
}

// handleProfile streams one artifact.
func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request, name string) {
	if h.source == nil || !storage.ValidName(name) {
		h.fail(w, r, errors.ErrNotFound)
		return
	}
	rc, err := h.source.Store().Open(r.Context(), name)
	if stderrors.Is(err, storage.ErrNotFound) {
		h.fail(w, r, errors.ErrNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, errors.Wrap(err, http.StatusInternalServerError, "Reading profile failed"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("profile download interrupted", zap.String("artifact", name), zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e *errors.HTTPError) {
	if e.Code >= http.StatusInternalServerError {
		h.logger.Error("debug endpoint error", zap.String("path", r.URL.Path), zap.Error(e))
	}
	e.WithRequestID(r.Header.Get(middleware.RequestIDHeader)).WriteJSON(w)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Stats returns debug endpoint info.
func (h *Handler) Stats() map[string]interface{} {
	return map[string]interface{}{
		"enabled": true,
		"path":    h.path,
	}
}
