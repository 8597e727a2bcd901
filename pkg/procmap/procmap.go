// Package procmap records which server processes are running and what they
// are doing.
//
// A server registers itself at startup, refreshes its entry with a status
// line from its accept loop ("Listening, port: N", "Received a client,
// port: N") and unregisters before exit. Administrative tools list the
// entries to discover running instances.
package procmap

import (
	"context"
	"errors"
	"time"
)

// ErrNotRegistered is returned when heartbeating an unknown entry.
var ErrNotRegistered = errors.New("procmap: not registered")

// Entry describes one registered server process.
type Entry struct {
	Name       string    `json:"name"`
	Executable string    `json:"executable"`
	Port       int       `json:"port"`
	PID        int       `json:"pid"`
	Status     string    `json:"status"`
	Started    time.Time `json:"started"`
	Updated    time.Time `json:"updated"`
}

// Registrar stores process entries.
type Registrar interface {
	Register(ctx context.Context, entry Entry) error
	Heartbeat(ctx context.Context, name, status string) error
	Unregister(ctx context.Context, name string) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Noop is a Registrar that records nothing.
type Noop struct{}

func (Noop) Register(ctx context.Context, entry Entry) error          { return nil }
func (Noop) Heartbeat(ctx context.Context, name, status string) error { return nil }
func (Noop) Unregister(ctx context.Context, name string) error        { return nil }
func (Noop) List(ctx context.Context) ([]Entry, error)                { return nil, nil }
func (Noop) Close() error                                             { return nil }
