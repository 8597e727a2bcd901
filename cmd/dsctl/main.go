package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dsserver/pkg/client"
	"github.com/marmos91/dsserver/pkg/config"
)

const usage = `dsctl - administer running dsserver instances

Usage:
  dsctl [flags] ping          Check that the server answers IS_ALIVE
  dsctl [flags] clients       Print the number of connected clients
  dsctl [flags] shutdown      Ask the server to exit
  dsctl [flags] list          List instances registered in the process map
  dsctl [flags] init          Write a sample configuration file to -config

Flags:
`

func main() {
	addr := flag.String("addr", fmt.Sprintf("localhost:%d", config.DefaultPort), "Server address")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	configPath := flag.String("config", "", "Config file (list reads it, init writes it)")
	asJSON := flag.Bool("json", false, "Print list output as JSON")
	force := flag.Bool("force", false, "Overwrite an existing file (init only)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "ping", "clients", "shutdown":
		err = runAdmin(ctx, *addr, cmd)
	case "list":
		err = runList(ctx, *configPath, *asJSON)
	case "init":
		err = runInit(*configPath, *force)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAdmin(ctx context.Context, addr, cmd string) error {
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	switch cmd {
	case "ping":
		if err := c.IsAlive(ctx); err != nil {
			return err
		}
		fmt.Printf("%s is alive\n", addr)
	case "clients":
		n, err := c.NumClients(ctx)
		if err != nil {
			return err
		}
		// the count includes this connection
		fmt.Println(n - 1)
	case "shutdown":
		if err := c.Shutdown(ctx); err != nil {
			return err
		}
		fmt.Printf("%s is shutting down\n", addr)
	}
	return nil
}

func runInit(path string, force bool) error {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(path, force); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runList(ctx context.Context, configPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Procmap.Type == "none" {
		return fmt.Errorf("no process map configured (procmap.type is none)")
	}

	reg, err := config.CreateRegistrar(ctx, cfg.Procmap)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	entries, err := reg.List(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEXECUTABLE\tPORT\tPID\tSTATUS\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.Name, e.Executable, e.Port, e.PID, e.Status, e.Updated.Format(time.RFC3339))
	}
	return w.Flush()
}
