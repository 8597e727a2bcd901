package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DSServer Configuration File
#
# Environment variables prefixed with DSSERVER_ override any value below,
# e.g. DSSERVER_SERVER_MAX_CLIENTS=64. DS_SERVER_MAX_CLIENTS is honoured too.

`

// fieldComments are attached above the matching keys of the sample file.
var fieldComments = map[string]string{
	"logging":        "Logging configuration",
	"logging.level":  "DEBUG, INFO, WARN or ERROR",
	"logging.format": "text or json",
	"logging.output": "stdout, stderr or a file path",

	"server":                           "Listener, worker pool and dispatch settings",
	"server.port":                      "TCP port to listen on (0 picks a free port)",
	"server.instance_name":             "Name in the process map (empty: the port number)",
	"server.max_quiescent_secs":        "Exit after this many seconds without clients (0 disables)",
	"server.quiescence_check_interval": "How often quiescence is rechecked while clients are connected",
	"server.max_clients":               "Maximum clients served at once; more wait in the backlog",
	"server.thread_pool":               "Reuse workers between clients (false: one worker per client)",
	"server.prestart_workers":          "Workers created before the first client",
	"server.worker_idle_ttl":           "Retire workers idle for longer than this (0 keeps them)",
	"server.no_thread_debug":           "Serve clients one at a time on the listener (debugging)",
	"server.verbose":                   "Implies debug",
	"server.accept_timeout":            "Accept wait before the timeout hooks run",
	"server.idle_timeout":              "Close connections silent for this long (0 disables)",
	"server.shutdown_timeout":          "Grace period for in-flight requests on stop",
	"server.max_accept_failures":       "Consecutive accept errors tolerated before exiting",
	"server.rate_limit":                "Payload request throttling (requests_per_second 0 disables)",

	"metrics": "Prometheus endpoint served on /metrics",

	"procmap":                "Registry of running instances (none or badger)",
	"procmap.badger.db_path": "BadgerDB directory shared by all instances on this host",
	"procmap.badger.ttl":     "Entries that stop heartbeating expire after this long",
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	annotate(&root, "")

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to write yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to write yaml: %w", err)
	}

	return buf.String(), nil
}

func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}

		if comment, ok := fieldComments[path]; ok {
			key.HeadComment = comment
		}
		annotate(value, path)
	}
}
