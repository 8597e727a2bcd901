package server

import (
	"context"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
)

// quiescenceMonitor stops the server once it has had no clients for
// maxIdle. It only exists when a positive maxIdle is configured.
type quiescenceMonitor struct {
	counter    *ClientCounter
	maxIdle    time.Duration
	interval   time.Duration
	now        func() time.Time
	beforeExit func() bool
	stop       func(cause error)
}

func newQuiescenceMonitor(counter *ClientCounter, maxIdle, interval time.Duration, now func() time.Time,
	beforeExit func() bool, stop func(cause error)) *quiescenceMonitor {
	if maxIdle <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &quiescenceMonitor{
		counter:    counter,
		maxIdle:    maxIdle,
		interval:   interval,
		now:        now,
		beforeExit: beforeExit,
		stop:       stop,
	}
}

// run sleeps until the earliest moment the server could become quiescent,
// rechecks and repeats until ctx ends or it stops the server.
func (m *quiescenceMonitor) run(ctx context.Context) {
	timer := time.NewTimer(m.maxIdle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait, expired := m.check()
		if expired {
			logger.Info("No clients for %v, exiting", m.maxIdle)
			if !m.beforeExit() {
				logger.Info("Quiescence exit aborted by hook")
				timer.Reset(m.interval)
				continue
			}
			// the hook may block long enough for a client to connect
			if wait, expired = m.check(); expired {
				m.stop(ErrQuiescent)
				return
			}
			logger.Info("Client connected during exit hooks, staying up")
		}
		timer.Reset(wait)
	}
}

// check returns whether the idle limit has been reached and, if not, how
// long to wait before the limit could next be reached.
func (m *quiescenceMonitor) check() (wait time.Duration, expired bool) {
	idle, ok := m.counter.IdleFor(m.now())
	if !ok {
		return m.interval, false
	}
	if idle >= m.maxIdle {
		return 0, true
	}
	return m.maxIdle - idle, false
}
