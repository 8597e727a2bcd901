package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	s := cfg.Server
	if s.ExecutableName != "dsserver" {
		t.Errorf("Expected executable name 'dsserver', got %q", s.ExecutableName)
	}
	if s.MaxClients != 1024 {
		t.Errorf("Expected max_clients 1024, got %d", s.MaxClients)
	}
	if s.AcceptTimeout != time.Second {
		t.Errorf("Expected accept_timeout 1s, got %v", s.AcceptTimeout)
	}
	if s.QuiescenceCheckInterval != time.Second {
		t.Errorf("Expected quiescence_check_interval 1s, got %v", s.QuiescenceCheckInterval)
	}
	if s.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected shutdown_timeout 30s, got %v", s.ShutdownTimeout)
	}
	if s.MaxMessageSize != 1<<20 {
		t.Errorf("Expected max_message_size 1MiB, got %d", s.MaxMessageSize)
	}
	if s.MaxAcceptFailures != 1000 {
		t.Errorf("Expected max_accept_failures 1000, got %d", s.MaxAcceptFailures)
	}
	if s.MaxQuiescentSecs != 0 {
		t.Errorf("Expected quiescence disabled by default, got %d", s.MaxQuiescentSecs)
	}
}

func TestApplyDefaults_RateLimitBurst(t *testing.T) {
	cfg := &Config{}
	cfg.Server.RateLimit.RequestsPerSecond = 0.5
	ApplyDefaults(cfg)

	if cfg.Server.RateLimit.Burst != 1 {
		t.Errorf("Expected burst raised to 1, got %d", cfg.Server.RateLimit.Burst)
	}

	cfg = &Config{}
	cfg.Server.RateLimit.RequestsPerSecond = 20
	ApplyDefaults(cfg)

	if cfg.Server.RateLimit.Burst != 20 {
		t.Errorf("Expected burst to follow the rate, got %d", cfg.Server.RateLimit.Burst)
	}
}

func TestApplyDefaults_MetricsAndProcmap(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Expected metrics port %d, got %d", DefaultMetricsPort, cfg.Metrics.Port)
	}
	if cfg.Procmap.Type != "none" {
		t.Errorf("Expected procmap type 'none', got %q", cfg.Procmap.Type)
	}
	if cfg.Procmap.Badger == nil {
		t.Error("Expected badger section to be initialized")
	}
}

func TestApplyDefaults_VerboseImpliesDebug(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "ERROR"
	cfg.Server.Verbose = true
	ApplyDefaults(cfg)

	if !cfg.Server.Debug {
		t.Error("Expected verbose to turn on debug")
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected debug to force level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Server: ServerConfig{
			ExecutableName:  "analysis",
			MaxClients:      8,
			AcceptTimeout:   50 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{Port: 9191},
		Procmap: ProcmapConfig{Type: "badger"},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging values, got %+v", cfg.Logging)
	}
	if cfg.Server.ExecutableName != "analysis" {
		t.Errorf("Expected executable name 'analysis', got %q", cfg.Server.ExecutableName)
	}
	if cfg.Server.MaxClients != 8 {
		t.Errorf("Expected max_clients 8, got %d", cfg.Server.MaxClients)
	}
	if cfg.Server.AcceptTimeout != 50*time.Millisecond {
		t.Errorf("Expected accept_timeout 50ms, got %v", cfg.Server.AcceptTimeout)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected metrics port 9191, got %d", cfg.Metrics.Port)
	}
	if cfg.Procmap.Type != "badger" {
		t.Errorf("Expected procmap type 'badger', got %q", cfg.Procmap.Type)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if !cfg.Server.ThreadPool {
		t.Error("Expected thread pool enabled in the default config")
	}
	if _, ok := cfg.Procmap.Badger["db_path"]; !ok {
		t.Error("Expected a sample badger db_path")
	}
}
