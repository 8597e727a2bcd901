package config

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dsserver/pkg/procmap"
	"github.com/marmos91/dsserver/pkg/server"
	"github.com/mitchellh/mapstructure"
)

// ToServerConfig converts the loaded configuration into the listener's
// runtime settings.
func ToServerConfig(cfg *Config) server.Config {
	s := cfg.Server

	var quiescent time.Duration
	if s.MaxQuiescentSecs > 0 {
		quiescent = time.Duration(s.MaxQuiescentSecs) * time.Second
	}

	return server.Config{
		Port:                    s.Port,
		InstanceName:            s.InstanceName,
		ExecutableName:          s.ExecutableName,
		MaxClients:              s.MaxClients,
		OneShot:                 !s.ThreadPool,
		PrestartWorkers:         s.PrestartWorkers,
		WorkerIdleTTL:           s.WorkerIdleTTL,
		Inline:                  s.NoThreadDebug,
		MaxQuiescent:            quiescent,
		QuiescenceCheckInterval: s.QuiescenceCheckInterval,
		AcceptTimeout:           s.AcceptTimeout,
		IdleTimeout:             s.IdleTimeout,
		WriteTimeout:            s.WriteTimeout,
		ShutdownTimeout:         s.ShutdownTimeout,
		MaxMessageSize:          s.MaxMessageSize,
		MaxAcceptFailures:       s.MaxAcceptFailures,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			Burst:             s.RateLimit.Burst,
		},
	}
}

// CreateRegistrar opens the process map selected by cfg.Type.
// The caller owns the returned registrar and must Close it.
func CreateRegistrar(ctx context.Context, cfg ProcmapConfig) (procmap.Registrar, error) {
	switch cfg.Type {
	case "", "none":
		return procmap.Noop{}, nil
	case "badger":
		return createBadgerRegistrar(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown procmap type: %q", cfg.Type)
	}
}

func createBadgerRegistrar(ctx context.Context, cfg ProcmapConfig) (procmap.Registrar, error) {
	// ttl is written as a duration string such as "1m"
	var badgerCfg procmap.BadgerConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &badgerCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(cfg.Badger); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	reg, err := procmap.NewBadgerRegistrar(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open procmap database: %w", err)
	}
	return reg, nil
}
