package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_, _ = p.Shutdown(ctx)
	})
	return p
}

func idleCount(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// ============================================================================
// Construction
// ============================================================================

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"ZeroMax", Config{MaxWorkers: 0}},
		{"PrestartAboveMax", Config{MaxWorkers: 2, Prestart: 3}},
		{"NegativePrestart", Config{MaxWorkers: 2, Prestart: -1}},
		{"NegativeTTL", Config{MaxWorkers: 2, IdleTTL: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestPrestart(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 4, Prestart: 3})

	st := p.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Idle)
	assert.Equal(t, uint64(3), st.Created)
}

// ============================================================================
// Acquire / Dispatch
// ============================================================================

func TestWorkerIsRecycled(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2})

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Starting, w.State())

	done := make(chan struct{})
	require.NoError(t, w.Run(func(ctx context.Context) { close(done) }))
	<-done

	require.Eventually(t, func() bool { return idleCount(p) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, uint64(1), w.Completed())
	assert.Equal(t, Idle, w.State())

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.ID(), again.ID(), "idle worker should be reused")
	assert.Equal(t, uint64(1), p.Stats().Created)
	p.Release(again)
}

func TestAcquireBlocksAtMax(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	p.Release(w)

	w2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.ID(), w2.ID())
	p.Release(w2)
}

func TestBusyWorkerHoldsSlot(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	release := make(chan struct{})
	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Dispatch(w, func(ctx context.Context) { <-release }))

	require.Eventually(t, func() bool { return w.State() == Busy }, waitFor, 5*time.Millisecond)

	acquired := make(chan *Worker, 1)
	go func() {
		next, err := p.Acquire(context.Background())
		if err == nil {
			acquired <- next
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only worker is busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case next := <-acquired:
		p.Release(next)
	case <-time.After(waitFor):
		t.Fatal("acquire did not proceed after the worker finished")
	}
}

func TestOneShot(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2, OneShot: true})

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Run(func(ctx context.Context) {}))

	select {
	case <-w.Done():
	case <-time.After(waitFor):
		t.Fatal("one-shot worker did not exit")
	}

	assert.Equal(t, Exiting, w.State())
	st := p.Stats()
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, uint64(1), st.Retired)

	next, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, w.ID(), next.ID())
	p.Release(next)
}

func TestPanicInTaskIsRecovered(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Run(func(ctx context.Context) { panic("boom") }))

	require.Eventually(t, func() bool { return w.Completed() == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return idleCount(p) == 1 }, waitFor, 5*time.Millisecond)
}

// ============================================================================
// Prune
// ============================================================================

func TestPrune(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 3, Prestart: 2, IdleTTL: time.Minute})

	assert.Equal(t, 0, p.Prune(), "fresh workers are within ttl")

	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 2, p.Prune())

	st := p.Stats()
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, uint64(2), st.Retired)
}

func TestPruneDisabled(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2, Prestart: 2})
	p.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Equal(t, 0, p.Prune())
}

// ============================================================================
// Shutdown
// ============================================================================

func TestShutdownAcknowledgesIdleAndBusy(t *testing.T) {
	const idle, busy = 3, 2
	p, err := New(Config{MaxWorkers: idle + busy}, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	var workers []*Worker
	var quick sync.WaitGroup

	for i := 0; i < idle+busy; i++ {
		w, err := p.Acquire(context.Background())
		require.NoError(t, err)
		workers = append(workers, w)
	}
	for i, w := range workers {
		if i < busy {
			require.NoError(t, w.Run(func(ctx context.Context) { <-release }))
			continue
		}
		quick.Add(1)
		require.NoError(t, w.Run(func(ctx context.Context) { quick.Done() }))
	}
	quick.Wait()

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.Idle == idle && st.Busy == busy
	}, waitFor, 5*time.Millisecond)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.Shutdown(context.Background())
		done <- result{n, err}
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned while workers were busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, idle+busy, r.n)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not complete")
	}

	for _, w := range workers {
		select {
		case <-w.Done():
		default:
			t.Fatalf("worker %s still running after shutdown", w.ID())
		}
	}

	_, err = p.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrPoolClosed))

	n, err := p.Shutdown(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestShutdownTimeoutCancelsTasks(t *testing.T) {
	p, err := New(Config{MaxWorkers: 1}, nil)
	require.NoError(t, err)

	cancelled := make(chan struct{})
	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Run(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))
	require.Eventually(t, func() bool { return w.State() == Busy }, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := p.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, n)

	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("task context was not cancelled")
	}
	select {
	case <-w.Done():
	case <-time.After(waitFor):
		t.Fatal("worker did not exit after its task returned")
	}
}

func TestDispatchAfterShutdown(t *testing.T) {
	p, err := New(Config{MaxWorkers: 1}, nil)
	require.NoError(t, err)

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		n, _ := p.Shutdown(context.Background())
		done <- n
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.closed
	}, waitFor, 5*time.Millisecond)

	err = p.Dispatch(w, func(ctx context.Context) { t.Error("task must not run after shutdown") })
	assert.True(t, errors.Is(err, ErrPoolClosed))

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not see the reserved worker exit")
	}
}
