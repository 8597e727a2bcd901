package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dsserver configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DSSERVER_*, plus the legacy DS_SERVER_MAX_CLIENTS)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// The process map section follows the store pattern: Type selects the
// implementation and only the matching type-specific section is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the listener, pool and dispatch settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Procmap selects where running instances register themselves
	Procmap ProcmapConfig `mapstructure:"procmap" yaml:"procmap"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the server settings.
type ServerConfig struct {
	// Port is the TCP port to listen on. 0 binds an ephemeral port.
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// InstanceName identifies this server in the process map.
	// Empty means the port number.
	InstanceName string `mapstructure:"instance_name" yaml:"instance_name"`

	// ExecutableName is recorded in the process map
	ExecutableName string `mapstructure:"executable_name" yaml:"executable_name" validate:"required"`

	// MaxQuiescentSecs stops the server after this many seconds with no
	// clients. 0 or negative disables the check.
	MaxQuiescentSecs int `mapstructure:"max_quiescent_secs" yaml:"max_quiescent_secs"`

	// QuiescenceCheckInterval is how often quiescence is rechecked while
	// clients are connected
	QuiescenceCheckInterval time.Duration `mapstructure:"quiescence_check_interval" yaml:"quiescence_check_interval" validate:"gte=0"`

	// MaxClients bounds concurrently served clients
	MaxClients int `mapstructure:"max_clients" yaml:"max_clients" validate:"gt=0"`

	// ThreadPool reuses workers between clients. When false every worker
	// serves one client and exits.
	ThreadPool bool `mapstructure:"thread_pool" yaml:"thread_pool"`

	// PrestartWorkers are created before the first client arrives
	PrestartWorkers int `mapstructure:"prestart_workers" yaml:"prestart_workers" validate:"gte=0"`

	// WorkerIdleTTL retires idle workers after this long. 0 keeps them.
	WorkerIdleTTL time.Duration `mapstructure:"worker_idle_ttl" yaml:"worker_idle_ttl" validate:"gte=0"`

	// NoThreadDebug serves clients on the listener goroutine, one at a time
	NoThreadDebug bool `mapstructure:"no_thread_debug" yaml:"no_thread_debug"`

	// Debug forces DEBUG logging
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// Verbose implies Debug
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`

	// AcceptTimeout bounds each accept wait before the timeout hooks run
	AcceptTimeout time.Duration `mapstructure:"accept_timeout" yaml:"accept_timeout" validate:"gt=0"`

	// IdleTimeout closes connections that send nothing for this long. 0 disables.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// WriteTimeout bounds writing a reply. 0 disables.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// ShutdownTimeout is the maximum time to wait for in-flight requests on stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaxMessageSize bounds a single request in bytes
	MaxMessageSize int `mapstructure:"max_message_size" yaml:"max_message_size" validate:"gt=0"`

	// MaxAcceptFailures is the number of consecutive accept errors tolerated
	MaxAcceptFailures int `mapstructure:"max_accept_failures" yaml:"max_accept_failures" validate:"gt=0"`

	// RateLimit throttles payload requests
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles payload requests across all clients.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. 0 disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the number of requests allowed above the sustained rate
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// ProcmapConfig selects the process map implementation.
type ProcmapConfig struct {
	// Type specifies which registrar to use
	// Valid values: none, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// legacyMaxClientsEnv overrides server.max_clients. It predates the
// DSSERVER_ prefix and wins over every other source except CLI flags.
const legacyMaxClientsEnv = "DS_SERVER_MAX_CLIENTS"

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyLegacyEnv(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DSSERVER_SERVER_MAX_CLIENTS=64
	v.SetEnvPrefix("DSSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about, so every
	// struct key is bound up front for configs that come from env alone.
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dsserver/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		switch field.Type.Kind() {
		case reflect.Struct:
			bindEnvs(v, field.Type, key)
		case reflect.Map:
			// free-form sections are only read from the file
		default:
			_ = v.BindEnv(key)
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func applyLegacyEnv(cfg *Config) error {
	raw, ok := os.LookupEnv(legacyMaxClientsEnv)
	if !ok || raw == "" {
		return nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fmt.Errorf("%s: expected a positive integer, got %q", legacyMaxClientsEnv, raw)
	}
	cfg.Server.MaxClients = n
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dsserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dsserver")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
