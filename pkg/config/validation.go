package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	s := cfg.Server

	if s.PrestartWorkers > s.MaxClients {
		return fmt.Errorf("server: prestart_workers (%d) exceeds max_clients (%d)",
			s.PrestartWorkers, s.MaxClients)
	}

	if s.NoThreadDebug && s.PrestartWorkers > 0 {
		return fmt.Errorf("server: prestart_workers has no effect with no_thread_debug")
	}

	if s.MaxQuiescentSecs > 0 && s.QuiescenceCheckInterval <= 0 {
		return fmt.Errorf("server: quiescence_check_interval must be positive when max_quiescent_secs is set")
	}

	if cfg.Metrics.Enabled && s.Port != 0 && cfg.Metrics.Port == s.Port {
		return fmt.Errorf("metrics: port %d is already used by the server", s.Port)
	}

	if cfg.Procmap.Type == "badger" {
		path, _ := cfg.Procmap.Badger["db_path"].(string)
		if path == "" {
			return fmt.Errorf("procmap: badger.db_path is required when type is badger")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
