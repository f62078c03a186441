package stackprof_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/wudi/stackprof/stackprof"
)

func TestWrap(t *testing.T) {
	dir := t.TempDir()
	h, sp, err := stackprof.Wrap(context.Background(), stackprof.Options{
		ProfileInterval:  time.Minute,
		SamplingInterval: time.Millisecond,
		ResultDirectory:  dir,
		Profiler:         stackprof.ProfilerOptions{Mode: stackprof.ModeWall},
		Logger:           zap.NewNop(),
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	defer sp.Close()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/v1/users", nil))
	if rr.Body.String() != "ok" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}

	list, err := sp.Store().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !strings.HasSuffix(list[0].Name, "ms.dump") {
		t.Errorf("expected one artifact, got %v", list)
	}
}

func TestWrap_InvalidOptions(t *testing.T) {
	if _, _, err := stackprof.Wrap(context.Background(), stackprof.Options{}, http.NotFoundHandler()); err == nil {
		t.Fatal("expected an error for empty options")
	}
}

func TestServerBuilder(t *testing.T) {
	cfg := stackprof.DefaultConfig()
	cfg.Logging.AccessLog = false
	cfg.Stackprof.ProfileIntervalSeconds = 60
	cfg.Stackprof.SamplingIntervalMicroseconds = 1000
	cfg.Stackprof.ResultDirectory = "mem://"

	reg := prometheus.NewRegistry()
	var inner int
	srv, err := stackprof.NewServer(cfg).
		WithApp(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})).
		AddMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner++
				next.ServeHTTP(w, r)
			})
		}).
		WithRegistry(reg).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer srv.Shutdown(time.Second)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/work", nil))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
	}
	if inner != 3 {
		t.Errorf("custom middleware ran %d times, want 3", inner)
	}
	if srv.Stackprof().Stats()["captured"] != int64(1) {
		t.Errorf("expected one capture, got %v", srv.Stackprof().Stats())
	}
	if n := testutil.CollectAndCount(reg, "stackprof_gate_decisions_total"); n != 3 {
		t.Errorf("expected 3 decision series, got %d", n)
	}
}

func TestNew_WithStoreAndCollector(t *testing.T) {
	ctx := context.Background()
	store, err := stackprof.OpenStore(ctx, "mem://")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	sp, err := stackprof.New(ctx, stackprof.Options{
		ProfileInterval:  time.Minute,
		SamplingInterval: time.Millisecond,
		Store:            store,
		Metrics:          stackprof.NewCollector(reg),
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := sp.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/users", nil))

	var list []stackprof.Artifact
	list, err = store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected one artifact in the supplied store, got %d", len(list))
	}
	if n := testutil.CollectAndCount(reg, "stackprof_capture_duration_seconds"); n != 1 {
		t.Errorf("expected the capture histogram on the supplied registry, got %d series", n)
	}
}
