package workerpool

import "errors"

var (
	// ErrPoolClosed is returned by Acquire and Dispatch after Shutdown.
	ErrPoolClosed = errors.New("workerpool: pool closed")

	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = errors.New("workerpool: invalid config")
)
