package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/wudi/stackprof/internal/errors"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validProfilerModes = map[string]bool{
	"wall": true, "cpu": true, "trace": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// expandEnvVars replaces ${VAR} with the environment value; unset variables are kept verbatim
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return errors.MissingOption("listener.address")
	}
	if cfg.Logging.Level != "" && !validLogLevels[cfg.Logging.Level] {
		return errors.InvalidOption("logging.level", cfg.Logging.Level)
	}

	sp := cfg.Stackprof
	if sp.Enabled {
		if sp.ProfileIntervalSeconds <= 0 {
			return errors.MissingOption("stackprof.profile_interval_seconds")
		}
		if sp.SamplingIntervalMicroseconds <= 0 {
			return errors.MissingOption("stackprof.sampling_interval_microseconds")
		}
		if sp.ResultDirectory == "" {
			return errors.MissingOption("stackprof.result_directory")
		}
		if sp.ProfileIncludePath != "" {
			if _, err := regexp.Compile(sp.ProfileIncludePath); err != nil {
				return errors.InvalidPattern(sp.ProfileIncludePath, err)
			}
		}
		if sp.ProfileIncludeGlob != "" && !doublestar.ValidatePattern(sp.ProfileIncludeGlob) {
			return errors.InvalidPattern(sp.ProfileIncludeGlob, doublestar.ErrBadPattern)
		}
		if sp.Profiler.Mode != "" && !validProfilerModes[sp.Profiler.Mode] {
			return errors.InvalidOption("stackprof.profiler.mode", sp.Profiler.Mode)
		}
		if sp.SaveTimeout < 0 {
			return errors.InvalidOption("stackprof.save_timeout", sp.SaveTimeout)
		}
	}

	if cfg.DebugEndpoint.Enabled && !strings.HasPrefix(cfg.DebugEndpoint.Path, "/") {
		return errors.InvalidOption("debug_endpoint.path", cfg.DebugEndpoint.Path)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.InvalidOption("metrics.path", cfg.Metrics.Path)
	}
	return nil
}
