package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

server:
  port: 7100
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Expected port 7100, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxClients != 1024 {
		t.Errorf("Expected default max_clients 1024, got %d", cfg.Server.MaxClients)
	}
	if cfg.Server.AcceptTimeout != time.Second {
		t.Errorf("Expected default accept_timeout 1s, got %v", cfg.Server.AcceptTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Procmap.Type != "none" {
		t.Errorf("Expected default procmap type 'none', got %q", cfg.Procmap.Type)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Point the default location at an empty directory so the user's own
	// config is not picked up.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults without a config file, got error: %v", err)
	}
	if cfg.Server.ExecutableName != "dsserver" {
		t.Errorf("Expected default executable name, got %q", cfg.Server.ExecutableName)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "server:\n  port: [unclosed\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
port = 7200
max_quiescent_secs = 60
thread_pool = true
accept_timeout = "250ms"

[server.rate_limit]
requests_per_second = 50.0
burst = 10
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.MaxQuiescentSecs != 60 {
		t.Errorf("Expected max_quiescent_secs 60, got %d", cfg.Server.MaxQuiescentSecs)
	}
	if cfg.Server.AcceptTimeout != 250*time.Millisecond {
		t.Errorf("Expected accept_timeout 250ms, got %v", cfg.Server.AcceptTimeout)
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50 || cfg.Server.RateLimit.Burst != 10 {
		t.Errorf("Unexpected rate limit: %+v", cfg.Server.RateLimit)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  port: 70000
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for out of range port")
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Error("Expected no config in an empty config dir")
	}

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "dsserver", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/ds")

	want := filepath.Join("/home/ds", ".config", "dsserver")
	if got := GetConfigDir(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DSSERVER_LOGGING_LEVEL", "ERROR")
	t.Setenv("DSSERVER_SERVER_PORT", "7300")
	t.Setenv("DSSERVER_SERVER_THREAD_POOL", "true")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

server:
  port: 7100
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 7300 {
		t.Errorf("Expected port 7300 from env var, got %d", cfg.Server.Port)
	}
	if !cfg.Server.ThreadPool {
		t.Error("Expected thread_pool true from env var")
	}
}

func TestLoad_EnvironmentWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DSSERVER_SERVER_MAX_QUIESCENT_SECS", "15")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.MaxQuiescentSecs != 15 {
		t.Errorf("Expected max_quiescent_secs 15 from env var, got %d", cfg.Server.MaxQuiescentSecs)
	}
}

func TestLoad_LegacyMaxClientsEnv(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  max_clients: 10
`)

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("DS_SERVER_MAX_CLIENTS", "3")

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Server.MaxClients != 3 {
			t.Errorf("Expected max_clients 3 from legacy env, got %d", cfg.Server.MaxClients)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Setenv("DS_SERVER_MAX_CLIENTS", "many")

		if _, err := Load(configPath); err == nil {
			t.Fatal("Expected error for non-numeric DS_SERVER_MAX_CLIENTS")
		}
	})
}
