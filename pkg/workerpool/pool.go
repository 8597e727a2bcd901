// Package workerpool runs client tasks on a bounded set of reusable
// goroutines.
//
// A caller first reserves a worker with Acquire (blocking while MaxWorkers
// are reserved or busy), then hands it a task with Dispatch. Finished workers
// return to the idle set, or exit immediately in OneShot mode. Shutdown
// signals every worker to exit and waits for each acknowledgement.
//
// Locking: the pool mutex guards the idle set and bookkeeping, each Worker
// has its own mutex for its state. The two are never held together.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Config sizes the pool.
type Config struct {
	// MaxWorkers bounds reserved plus busy workers. Must be >= 1.
	MaxWorkers int

	// Prestart workers are created eagerly by New. Must not exceed MaxWorkers.
	Prestart int

	// OneShot retires each worker after a single task instead of recycling it.
	OneShot bool

	// IdleTTL is how long a worker may sit idle before Prune retires it.
	// 0 disables pruning.
	IdleTTL time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total    int
	Idle     int
	Starting int
	Busy     int
	Created  uint64
	Retired  uint64
}

type idleEntry struct {
	w     *Worker
	since time.Time
}

// Pool is a bounded registry of workers.
type Pool struct {
	cfg     Config
	sem     *semaphore.Weighted
	metrics metrics.PoolMetrics
	now     func() time.Time

	// task context, cancelled when Shutdown gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    []idleEntry
	all     map[*Worker]struct{}
	closed  bool
	created uint64
	retired uint64
}

// New validates cfg and creates the pool with cfg.Prestart idle workers.
// A nil m uses no-op metrics.
func New(cfg Config, m metrics.PoolMetrics) (*Pool, error) {
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("%w: max workers %d", ErrInvalidConfig, cfg.MaxWorkers)
	}
	if cfg.Prestart < 0 || cfg.Prestart > cfg.MaxWorkers {
		return nil, fmt.Errorf("%w: prestart %d with max workers %d", ErrInvalidConfig, cfg.Prestart, cfg.MaxWorkers)
	}
	if cfg.IdleTTL < 0 {
		return nil, fmt.Errorf("%w: negative idle ttl", ErrInvalidConfig)
	}
	if m == nil {
		m = metrics.NewNoopPoolMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		metrics: m,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		all:     make(map[*Worker]struct{}),
	}

	p.mu.Lock()
	for i := 0; i < cfg.Prestart; i++ {
		w := p.spawnLocked()
		p.idle = append(p.idle, idleEntry{w: w, since: p.now()})
	}
	p.mu.Unlock()
	p.publish()

	logger.Debug("Worker pool ready: max=%d prestart=%d oneshot=%v", cfg.MaxWorkers, cfg.Prestart, cfg.OneShot)
	return p, nil
}

// Acquire reserves a worker, reusing the most recently idled one or
// creating a new one. It blocks while MaxWorkers are reserved or busy.
//
// The returned worker is Starting and must be given a task with Dispatch
// or handed back with Release.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}

	var w *Worker
	if n := len(p.idle); n > 0 {
		w = p.idle[n-1].w
		p.idle = p.idle[:n-1]
	} else {
		w = p.spawnLocked()
	}
	p.mu.Unlock()

	w.setState(Starting)
	p.publish()
	return w, nil
}

// Dispatch hands task to a worker reserved with Acquire. It does not wait
// for the task to run.
//
// After Shutdown the worker is retired instead and ErrPoolClosed returned.
func (p *Pool) Dispatch(w *Worker, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.retireLocked(w, "shutdown")
		p.mu.Unlock()
		p.sem.Release(1)
		return ErrPoolClosed
	}
	p.mu.Unlock()

	w.start <- task
	return nil
}

// Release returns an unused reservation.
func (p *Pool) Release(w *Worker) {
	w.setState(Idle)

	p.mu.Lock()
	if p.closed {
		p.retireLocked(w, "shutdown")
	} else {
		p.idle = append(p.idle, idleEntry{w: w, since: p.now()})
	}
	p.mu.Unlock()

	p.sem.Release(1)
	p.publish()
}

// Prune retires idle workers that have been idle longer than IdleTTL and
// returns how many were retired.
func (p *Pool) Prune() int {
	if p.cfg.IdleTTL <= 0 {
		return 0
	}

	now := p.now()
	pruned := 0

	p.mu.Lock()
	keep := p.idle[:0]
	for _, e := range p.idle {
		if now.Sub(e.since) > p.cfg.IdleTTL {
			p.retireLocked(e.w, "pruned")
			pruned++
			continue
		}
		keep = append(keep, e)
	}
	// drop references held past the new length
	for i := len(keep); i < len(p.idle); i++ {
		p.idle[i] = idleEntry{}
	}
	p.idle = keep
	p.mu.Unlock()

	if pruned > 0 {
		logger.Debug("Pruned %d idle workers", pruned)
		p.publish()
	}
	return pruned
}

// Stats returns current pool counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.all))
	for w := range p.all {
		workers = append(workers, w)
	}
	st := Stats{
		Total:   len(p.all),
		Created: p.created,
		Retired: p.retired,
	}
	p.mu.Unlock()

	for _, w := range workers {
		switch w.State() {
		case Idle:
			st.Idle++
		case Starting:
			st.Starting++
		case Busy:
			st.Busy++
		}
	}
	return st
}

// Shutdown tells every worker to exit and waits for each acknowledgement.
//
// Idle workers exit at once; busy workers finish their current task first.
// It returns the number of workers that acknowledged. If ctx ends before all
// have, task contexts are cancelled and ctx.Err() is returned with the count
// so far. Calling Shutdown again returns 0 and nil.
func (p *Pool) Shutdown(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil
	}
	p.closed = true

	waiting := make([]*Worker, 0, len(p.all))
	for w := range p.all {
		waiting = append(waiting, w)
	}
	for _, e := range p.idle {
		p.retireLocked(e.w, "shutdown")
	}
	p.idle = nil
	p.mu.Unlock()

	logger.Debug("Worker pool shutting down: waiting for %d workers", len(waiting))

	acked := 0
	for _, w := range waiting {
		select {
		case <-w.exited:
			acked++
		case <-ctx.Done():
			p.cancel()
			p.publish()
			return acked, ctx.Err()
		}
	}

	p.cancel()
	p.publish()
	return acked, nil
}

// complete is called by a worker after each task.
func (p *Pool) complete(w *Worker, elapsed time.Duration) {
	p.metrics.RecordTaskDuration(elapsed)

	p.mu.Lock()
	switch {
	case p.closed:
		p.retireLocked(w, "shutdown")
	case p.cfg.OneShot:
		p.retireLocked(w, "oneshot")
	default:
		p.idle = append(p.idle, idleEntry{w: w, since: p.now()})
	}
	p.mu.Unlock()

	p.sem.Release(1)
	p.publish()
}

func (p *Pool) spawnLocked() *Worker {
	w := newWorker(p)
	p.all[w] = struct{}{}
	p.created++
	p.metrics.RecordWorkerCreated()
	return w
}

// retireLocked closes the worker's start channel. Each worker is owned by
// exactly one of the idle set or its reserver, so this runs once per worker.
func (p *Pool) retireLocked(w *Worker, reason string) {
	delete(p.all, w)
	close(w.start)
	p.retired++
	p.metrics.RecordWorkerRetired(reason)
}

func (p *Pool) publish() {
	p.mu.Lock()
	total, idle := len(p.all), len(p.idle)
	p.mu.Unlock()
	p.metrics.SetWorkers(total, idle, total-idle)
}
