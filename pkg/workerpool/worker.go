package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dsserver/internal/logger"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	// Idle: parked on its start channel, eligible for selection.
	Idle State = iota
	// Starting: reserved by Acquire, task not yet handed over.
	Starting
	// Busy: running a task.
	Busy
	// Exiting: observed the exit signal; terminates without running more tasks.
	Exiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Busy:
		return "busy"
	case Exiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// Task is the unit of work a worker runs. ctx is cancelled only when a
// pool shutdown runs out of time.
type Task func(ctx context.Context)

// Worker is a long-lived goroutine that runs one Task at a time.
//
// The start channel is both the start signal and the exit flag: a send hands
// over a task, a close tells the worker to exit. exited is closed once the
// goroutine has returned and serves as the termination acknowledgement.
type Worker struct {
	id   string
	pool *Pool

	start  chan Task
	exited chan struct{}

	mu        sync.Mutex
	state     State
	completed uint64
}

func newWorker(p *Pool) *Worker {
	w := &Worker{
		id:     uuid.NewString(),
		pool:   p,
		start:  make(chan Task, 1),
		exited: make(chan struct{}),
		state:  Idle,
	}
	go w.loop()
	return w
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Completed returns the number of tasks this worker has finished.
func (w *Worker) Completed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

// Done is closed after the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

// Run hands task to this reserved worker. See Pool.Dispatch.
func (w *Worker) Run(task Task) error {
	return w.pool.Dispatch(w, task)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) loop() {
	defer close(w.exited)

	for task := range w.start {
		w.setState(Busy)

		began := time.Now()
		w.runTask(task)
		elapsed := time.Since(began)

		w.mu.Lock()
		w.completed++
		w.state = Idle
		w.mu.Unlock()

		// the pool decides between recycling and retiring; a retire closes
		// start, which ends the range
		w.pool.complete(w, elapsed)
	}

	w.setState(Exiting)
	logger.Debug("Worker %s exiting", w.id)
}

func (w *Worker) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in worker %s: %v\n%s", w.id, r, debug.Stack())
		}
	}()
	task(w.pool.ctx)
}
