package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/pkg/procmap"
)

// Hooks are optional callbacks run after the server's own lifecycle steps.
//
// The server always performs its base behaviour first (process map
// heartbeats, worker pruning, unregistering) and then calls the hook, so a
// hook only adds to what the server does.
type Hooks struct {
	// OnTimeout runs when an accept wait expires with no client.
	// Return false to stop the server.
	OnTimeout func() bool

	// OnAfterDispatch runs after a connection is handed to a worker.
	// Return false to stop the server.
	OnAfterDispatch func() bool

	// OnBeforeExit runs before a quiescence exit or a SHUTDOWN command.
	// Return false to abort a quiescence exit. SHUTDOWN always exits.
	OnBeforeExit func() bool
}

const registrarTimeout = 5 * time.Second

func (s *Server) timeoutChain() bool {
	s.heartbeat(fmt.Sprintf("Listening, port: %d", s.port))
	if s.pool != nil {
		s.pool.Prune()
	}

	if s.hooks.OnTimeout != nil {
		return s.hooks.OnTimeout()
	}
	return true
}

func (s *Server) afterDispatchChain() bool {
	s.heartbeat(fmt.Sprintf("Received a client, port: %d", s.port))

	if s.hooks.OnAfterDispatch != nil {
		return s.hooks.OnAfterDispatch()
	}
	return true
}

func (s *Server) beforeExitChain() bool {
	s.unregister()

	if s.hooks.OnBeforeExit != nil {
		return s.hooks.OnBeforeExit()
	}
	return true
}

func (s *Server) register() {
	ctx, cancel := context.WithTimeout(context.Background(), registrarTimeout)
	defer cancel()

	entry := procmap.Entry{
		Name:       s.config.InstanceName,
		Executable: s.config.ExecutableName,
		Port:       s.port,
		PID:        os.Getpid(),
		Status:     fmt.Sprintf("Starting, port: %d", s.port),
	}
	if err := s.registrar.Register(ctx, entry); err != nil {
		logger.Warn("Process map registration failed for %s: %v", entry.Name, err)
	}
}

// heartbeat refreshes the process map status, registering again if the
// entry is gone (an aborted exit unregisters first).
func (s *Server) heartbeat(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), registrarTimeout)
	defer cancel()

	err := s.registrar.Heartbeat(ctx, s.config.InstanceName, status)
	if errors.Is(err, procmap.ErrNotRegistered) {
		s.register()
		err = s.registrar.Heartbeat(ctx, s.config.InstanceName, status)
	}
	if err != nil {
		logger.Debug("Process map heartbeat failed: %v", err)
	}
}

func (s *Server) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), registrarTimeout)
	defer cancel()

	if err := s.registrar.Unregister(ctx, s.config.InstanceName); err != nil {
		logger.Debug("Process map unregister failed: %v", err)
	}
}
