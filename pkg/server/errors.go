package server

import (
	"context"
	"errors"
)

// Stop causes. Every way the server can stop funnels into exactly one of
// these through the server's cancel-cause.
var (
	// ErrShutdownRequested: a client sent the SHUTDOWN command.
	ErrShutdownRequested = errors.New("shutdown requested by client")

	// ErrQuiescent: no clients for longer than MaxQuiescent.
	ErrQuiescent = errors.New("server quiescent")

	// ErrStoppedByHook: OnTimeout or OnAfterDispatch returned false.
	ErrStoppedByHook = errors.New("stopped by lifecycle hook")

	// ErrPayloadHandler: the payload handler failed or panicked.
	ErrPayloadHandler = errors.New("payload handler failed")

	// ErrAcceptFailed: too many consecutive accept errors.
	ErrAcceptFailed = errors.New("accept failed")

	// ErrSetup: the server could not start (bind, pool, config).
	ErrSetup = errors.New("server setup failed")
)

var (
	// ErrCounterUnderflow is returned by Disconnect when no client is counted.
	ErrCounterUnderflow = errors.New("client counter underflow")

	// ErrAlreadyServing is returned when Serve is called twice.
	ErrAlreadyServing = errors.New("server already serving")
)

// Exit codes.
const (
	ExitClean = 0
	ExitFatal = 1
	ExitSetup = 2
)

// ExitCode maps the error returned by Serve to a process exit status.
//
// Clean shutdowns (nil, SHUTDOWN, quiescence, hook stop, cancellation) map
// to ExitClean, setup failures to ExitSetup and everything else to ExitFatal.
func ExitCode(err error) int {
	switch {
	case err == nil,
		errors.Is(err, ErrShutdownRequested),
		errors.Is(err, ErrQuiescent),
		errors.Is(err, ErrStoppedByHook),
		errors.Is(err, context.Canceled):
		return ExitClean
	case errors.Is(err, ErrSetup):
		return ExitSetup
	default:
		return ExitFatal
	}
}

// isCleanStop reports whether cause was requested by the embedding program
// rather than decided by the server itself.
func isCleanStop(cause error) bool {
	return errors.Is(cause, context.Canceled) || errors.Is(cause, ErrStoppedByHook)
}
