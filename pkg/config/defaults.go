package config

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultPort        = 7070
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans keep their zero value, except thread_pool which is only
//     defaulted by GetDefaultConfig
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyProcmapDefaults(&cfg.Procmap)

	// verbose implies debug, and debug forces the log level
	if cfg.Server.Verbose {
		cfg.Server.Debug = true
	}
	if cfg.Server.Debug {
		cfg.Logging.Level = "DEBUG"
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ExecutableName == "" {
		cfg.ExecutableName = "dsserver"
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 1024
	}
	if cfg.QuiescenceCheckInterval == 0 {
		cfg.QuiescenceCheckInterval = time.Second
	}
	if cfg.AcceptTimeout == 0 {
		cfg.AcceptTimeout = time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.MaxAcceptFailures == 0 {
		cfg.MaxAcceptFailures = 1000
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyProcmapDefaults(cfg *ProcmapConfig) {
	if cfg.Type == "" {
		cfg.Type = "none"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:             DefaultPort,
			MaxQuiescentSecs: 0,
			ThreadPool:       true,
			IdleTimeout:      5 * time.Minute,
			WriteTimeout:     10 * time.Second,
		},
		Procmap: ProcmapConfig{
			Type: "none",
			Badger: map[string]any{
				"db_path": filepath.Join(getConfigDir(), "procmap"),
				"ttl":     "1m",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
