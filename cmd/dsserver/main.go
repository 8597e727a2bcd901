package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/pkg/config"
	"github.com/marmos91/dsserver/pkg/server"
)

const usage = `dsserver - pooled request server

Usage:
  dsserver [flags]            Start the server
  dsserver init [flags]       Write a sample configuration file

Start flags:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		os.Exit(runInit(os.Args[2:]))
	}
	os.Exit(run(os.Args[1:]))
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "", "Where to write the file (default: "+config.GetDefaultConfigPath()+")")
	force := fs.Bool("force", false, "Overwrite an existing file")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(target, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return server.ExitSetup
	}

	fmt.Printf("Configuration written to %s\n", target)
	return server.ExitClean
}

func run(args []string) int {
	fs := flag.NewFlagSet("dsserver", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	port := fs.Int("port", 0, "Port to listen on")
	instance := fs.String("instance", "", "Instance name in the process map (default: the port)")
	maxClients := fs.Int("max-clients", 0, "Maximum concurrent clients")
	maxQuiescent := fs.Int("max-quiescent", 0, "Exit after this many seconds without clients (0 disables)")
	threadPool := fs.Bool("thread-pool", true, "Reuse workers between clients")
	noThreadDebug := fs.Bool("no-thread-debug", false, "Serve clients one at a time on the listener")
	debug := fs.Bool("debug", false, "Enable debug logging")
	verbose := fs.Bool("verbose", false, "Verbose output (implies -debug)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return server.ExitSetup
	}

	// flags given explicitly win over file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "instance":
			cfg.Server.InstanceName = *instance
		case "max-clients":
			cfg.Server.MaxClients = *maxClients
		case "max-quiescent":
			cfg.Server.MaxQuiescentSecs = *maxQuiescent
		case "thread-pool":
			cfg.Server.ThreadPool = *threadPool
		case "no-thread-debug":
			cfg.Server.NoThreadDebug = *noThreadDebug
		case "debug":
			cfg.Server.Debug = *debug
		case "verbose":
			cfg.Server.Verbose = *verbose
		}
	})
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return server.ExitSetup
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return server.ExitSetup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, cfg, *configPath)
	if err != nil {
		logger.Error("Server stopped: %v", err)
	} else {
		logger.Info("Server stopped")
	}
	return server.ExitCode(err)
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := m.Server.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	reg, err := config.CreateRegistrar(ctx, cfg.Procmap)
	if err != nil {
		return fmt.Errorf("%w: %w", server.ErrSetup, err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("Failed to close process map: %v", err)
		}
	}()

	srv, err := server.New(config.ToServerConfig(cfg), echoHandler(),
		server.WithMetrics(m.ServerMetrics, m.PoolMetrics),
		server.WithRegistrar(reg),
	)
	if err != nil {
		return err
	}

	if configPath != "" {
		watchLogLevel(ctx, configPath)
	}

	logger.Info("Starting dsserver: port=%d max_clients=%d thread_pool=%v max_quiescent=%ds",
		cfg.Server.Port, cfg.Server.MaxClients, cfg.Server.ThreadPool, cfg.Server.MaxQuiescentSecs)

	return srv.Serve(ctx)
}

// watchLogLevel applies log level edits without a restart. Other settings
// only take effect on the next start.
func watchLogLevel(ctx context.Context, path string) {
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("Ignoring config change: %v", err)
			return
		}
		logger.SetLevel(cfg.Logging.Level)
		logger.Info("Log level set to %s", cfg.Logging.Level)
	})
	if err != nil {
		logger.Warn("Config hot reload disabled: %v", err)
	}
}
