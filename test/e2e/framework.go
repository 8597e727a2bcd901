package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
	"github.com/marmos91/dsserver/pkg/client"
	"github.com/marmos91/dsserver/pkg/config"
	"github.com/marmos91/dsserver/pkg/procmap"
	"github.com/marmos91/dsserver/pkg/server"
)

// TestContext provides a complete testing environment with:
// - a server started from a generated configuration file
// - the badger process map it registers in
// - cleanup mechanisms
type TestContext struct {
	T         *testing.T
	Config    *TestConfig
	Loaded    *config.Config
	Server    *server.Server
	Registrar procmap.Registrar
	Addr      string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan error
	result  error
	stopped bool
}

// NewTestContext writes the configuration for tc, loads it the way the
// dsserver binary does and starts the server.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tc := &TestContext{
		T:      t,
		Config: cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	tc.loadConfig()
	tc.startServer()
	return tc
}

func (tc *TestContext) loadConfig() {
	tc.T.Helper()

	dir := tc.T.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := tc.Config.YAML(filepath.Join(dir, "procmap"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.T.Fatalf("Failed to write config: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		tc.T.Fatalf("Failed to load config: %v", err)
	}
	tc.Loaded = loaded
}

func (tc *TestContext) startServer() {
	tc.T.Helper()

	// keep test output clean
	logger.SetLevel("ERROR")

	reg, err := config.CreateRegistrar(tc.ctx, tc.Loaded.Procmap)
	if err != nil {
		tc.T.Fatalf("Failed to open process map: %v", err)
	}
	tc.Registrar = reg

	tc.Server, err = server.New(config.ToServerConfig(tc.Loaded), echo(), server.WithRegistrar(reg))
	if err != nil {
		tc.T.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		tc.done <- tc.Server.Serve(tc.ctx)
	}()

	tc.waitForServer()
}

// waitForServer waits until the listener is bound.
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	ctx, cancel := context.WithTimeout(tc.ctx, 10*time.Second)
	defer cancel()

	addr, err := tc.Server.Addr(ctx)
	if err != nil {
		tc.T.Fatalf("Timeout waiting for server to start: %v", err)
	}
	tc.Addr = addr.String()
}

// Dial opens a client connection that is closed on test cleanup.
func (tc *TestContext) Dial() *client.Client {
	tc.T.Helper()

	ctx, cancel := context.WithTimeout(tc.ctx, 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, tc.Addr)
	if err != nil {
		tc.T.Fatalf("Failed to dial %s: %v", tc.Addr, err)
	}
	tc.T.Cleanup(func() { _ = c.Close() })
	return c
}

// Wait returns the Serve result once the server has stopped on its own.
func (tc *TestContext) Wait(timeout time.Duration) error {
	tc.T.Helper()

	if tc.stopped {
		return tc.result
	}

	select {
	case err := <-tc.done:
		tc.stopped = true
		tc.result = err
		return err
	case <-time.After(timeout):
		tc.T.Fatalf("Server did not stop within %v", timeout)
		return nil
	}
}

// InstanceName is the name the server registers under.
func (tc *TestContext) InstanceName() string {
	return tc.Loaded.Server.InstanceName
}

// Cleanup stops the server if it is still running and closes the process map.
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	tc.cancel()

	if !tc.stopped {
		select {
		case err := <-tc.done:
			tc.stopped = true
			tc.result = err
		case <-time.After(10 * time.Second):
			tc.T.Errorf("Server did not stop during cleanup")
		}
	}

	if tc.Registrar != nil {
		_ = tc.Registrar.Close()
	}
}

func echo() server.PayloadHandler {
	return server.PayloadHandlerFunc(func(ctx context.Context, req *server.Request) (*dsmsg.Message, error) {
		reply := dsmsg.NewReply(req.Message)
		reply.Parts = append(reply.Parts, req.Message.Parts...)
		return reply, nil
	})
}
