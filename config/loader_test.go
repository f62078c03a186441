package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/wudi/stackprof/internal/errors"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
listener:
  address: ":9090"
  read_timeout: 10s

logging:
  level: debug

stackprof:
  profile_interval_seconds: 60
  sampling_interval_microseconds: 1000
  result_directory: /tmp/stackprof
  profile_include_path: "^/v1/"
  save_timeout: 5s
  profiler:
    mode: cpu
    options:
      interval: 500
      format: pprof
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Listener.Address != ":9090" {
		t.Errorf("expected address :9090, got %s", cfg.Listener.Address)
	}
	if cfg.Listener.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Listener.ReadTimeout)
	}
	if cfg.Listener.IdleTimeout != 60*time.Second {
		t.Errorf("default idle_timeout lost, got %v", cfg.Listener.IdleTimeout)
	}

	sp := cfg.Stackprof
	if !sp.Enabled {
		t.Error("stackprof should stay enabled by default")
	}
	if sp.ProfileIntervalSeconds != 60 || sp.SamplingIntervalMicroseconds != 1000 {
		t.Errorf("intervals = %d / %d", sp.ProfileIntervalSeconds, sp.SamplingIntervalMicroseconds)
	}
	if sp.ResultDirectory != "/tmp/stackprof" {
		t.Errorf("result_directory = %q", sp.ResultDirectory)
	}
	if sp.ProfileIncludePath != "^/v1/" {
		t.Errorf("profile_include_path = %q", sp.ProfileIncludePath)
	}
	if sp.SaveTimeout != 5*time.Second {
		t.Errorf("save_timeout = %v", sp.SaveTimeout)
	}
	if sp.Profiler.Mode != "cpu" {
		t.Errorf("profiler.mode = %q", sp.Profiler.Mode)
	}
	if sp.Profiler.Options["format"] != "pprof" {
		t.Errorf("profiler.options.format = %v", sp.Profiler.Options["format"])
	}
	if _, ok := sp.Profiler.Options["interval"]; !ok {
		t.Error("profiler.options.interval missing")
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("STACKPROF_DIR", "/var/lib/stackprof")

	yaml := `
stackprof:
  profile_interval_seconds: 30
  sampling_interval_microseconds: 100
  result_directory: ${STACKPROF_DIR}
`
	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Stackprof.ResultDirectory != "/var/lib/stackprof" {
		t.Errorf("expected expanded directory, got %q", cfg.Stackprof.ResultDirectory)
	}
}

func TestLoaderUnsetEnvKept(t *testing.T) {
	l := NewLoader()
	got := l.expandEnvVars("dir: ${STACKPROF_SURELY_UNSET_VAR}")
	if got != "dir: ${STACKPROF_SURELY_UNSET_VAR}" {
		t.Errorf("unset variable should be kept verbatim, got %q", got)
	}
}

func TestLoaderDisabledNeedsNothing(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("stackprof:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Stackprof.Enabled {
		t.Error("expected stackprof disabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Stackprof.ProfileIntervalSeconds = 60
		cfg.Stackprof.SamplingIntervalMicroseconds = 1000
		cfg.Stackprof.ResultDirectory = "/tmp/stackprof"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing profile interval", func(c *Config) { c.Stackprof.ProfileIntervalSeconds = 0 }, perrors.ErrMissingOption},
		{"missing sampling interval", func(c *Config) { c.Stackprof.SamplingIntervalMicroseconds = 0 }, perrors.ErrMissingOption},
		{"missing result directory", func(c *Config) { c.Stackprof.ResultDirectory = "" }, perrors.ErrMissingOption},
		{"missing listener", func(c *Config) { c.Listener.Address = "" }, perrors.ErrMissingOption},
		{"bad regexp", func(c *Config) { c.Stackprof.ProfileIncludePath = "(/v1" }, perrors.ErrInvalidPattern},
		{"bad glob", func(c *Config) { c.Stackprof.ProfileIncludeGlob = "/v1/[" }, perrors.ErrInvalidPattern},
		{"unknown mode", func(c *Config) { c.Stackprof.Profiler.Mode = "object" }, perrors.ErrInvalidOption},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, perrors.ErrInvalidOption},
		{"relative debug path", func(c *Config) {
			c.DebugEndpoint.Enabled = true
			c.DebugEndpoint.Path = "debug"
		}, perrors.ErrInvalidOption},
		{"negative save timeout", func(c *Config) { c.Stackprof.SaveTimeout = -time.Second }, perrors.ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackprof.yaml")
	content := `
stackprof:
  profile_interval_seconds: 10
  sampling_interval_microseconds: 1000
  result_directory: ./profiles
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Stackprof.ProfileIntervalSeconds != 10 {
		t.Errorf("profile_interval_seconds = %d", cfg.Stackprof.ProfileIntervalSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
