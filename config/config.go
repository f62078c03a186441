// Package config holds the YAML configuration of the stackprof daemon.
package config

import "time"

// Config represents the complete daemon configuration
type Config struct {
	Listener      ListenerConfig      `yaml:"listener"`
	Logging       LoggingConfig       `yaml:"logging"`
	Stackprof     StackprofConfig     `yaml:"stackprof"`
	DebugEndpoint DebugEndpointConfig `yaml:"debug_endpoint"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ListenerConfig defines the HTTP listener
type ListenerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string            `yaml:"level"`
	Output    string            `yaml:"output"`
	AccessLog bool              `yaml:"access_log"`
	Rotation  LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// StackprofConfig defines request profiling. Interval and directory keys
// keep the names operators already use for the Rack middleware.
type StackprofConfig struct {
	Enabled                      bool           `yaml:"enabled"`
	ProfileIntervalSeconds       int            `yaml:"profile_interval_seconds"`
	SamplingIntervalMicroseconds int            `yaml:"sampling_interval_microseconds"`
	ResultDirectory              string         `yaml:"result_directory"`
	ProfileIncludePath           string         `yaml:"profile_include_path"` // regular expression, unanchored
	ProfileIncludeGlob           string         `yaml:"profile_include_glob"` // doublestar glob
	SaveTimeout                  time.Duration  `yaml:"save_timeout"`
	Profiler                     ProfilerConfig `yaml:"profiler"`
}

// ProfilerConfig is passed through to the sampling engine. Options entries
// "mode" and "interval" override the computed defaults.
type ProfilerConfig struct {
	Mode    string         `yaml:"mode"`
	Options map[string]any `yaml:"options"`
}

// DebugEndpointConfig defines the read-only debug endpoint
type DebugEndpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Output:    "stdout",
			AccessLog: true,
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Stackprof: StackprofConfig{
			Enabled:     true,
			SaveTimeout: 30 * time.Second,
			Profiler: ProfilerConfig{
				Mode: "wall",
			},
		},
		DebugEndpoint: DebugEndpointConfig{
			Path: "/__debug",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
