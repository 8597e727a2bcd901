package e2e

import (
	"fmt"
	"strings"
)

// ConcurrencyMode selects how the server hands clients to workers.
type ConcurrencyMode string

const (
	ModeThreadPool ConcurrencyMode = "thread_pool"
	ModeOneShot    ConcurrencyMode = "one_shot"
	ModeInline     ConcurrencyMode = "no_thread_debug"
)

// TestConfig describes one server setup the suites run against.
type TestConfig struct {
	Name string
	Mode ConcurrencyMode

	// MaxClients bounds concurrent clients. 0 uses the server default.
	MaxClients int

	// MaxQuiescentSecs enables the quiescence exit.
	MaxQuiescentSecs int
}

// AllConfigurations returns every concurrency mode with otherwise default
// settings.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "ThreadPool", Mode: ModeThreadPool},
		{Name: "OneShot", Mode: ModeOneShot},
		{Name: "Inline", Mode: ModeInline},
	}
}

// YAML renders the configuration file the server is started from. The
// process map always uses badger under procmapDir.
func (c *TestConfig) YAML(procmapDir string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "logging:\n  level: ERROR\n\n")
	fmt.Fprintf(&b, "server:\n")
	fmt.Fprintf(&b, "  port: 0\n")
	fmt.Fprintf(&b, "  instance_name: e2e-%s\n", strings.ToLower(c.Name))
	fmt.Fprintf(&b, "  thread_pool: %v\n", c.Mode != ModeOneShot)
	fmt.Fprintf(&b, "  no_thread_debug: %v\n", c.Mode == ModeInline)
	fmt.Fprintf(&b, "  accept_timeout: 50ms\n")
	fmt.Fprintf(&b, "  shutdown_timeout: 5s\n")
	if c.MaxClients > 0 {
		fmt.Fprintf(&b, "  max_clients: %d\n", c.MaxClients)
	}
	if c.MaxQuiescentSecs > 0 {
		fmt.Fprintf(&b, "  max_quiescent_secs: %d\n", c.MaxQuiescentSecs)
		fmt.Fprintf(&b, "  quiescence_check_interval: 100ms\n")
	}

	fmt.Fprintf(&b, "\nprocmap:\n  type: badger\n  badger:\n")
	fmt.Fprintf(&b, "    db_path: %q\n", procmapDir)
	fmt.Fprintf(&b, "    ttl: 1m\n")

	return b.String()
}
