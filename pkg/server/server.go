// Package server is a boss/worker TCP server core.
//
// One listener goroutine accepts clients and hands each connection to a
// pooled worker, which serves the client's requests until it disconnects.
// Administrative commands (IS_ALIVE, GET_NUM_CLIENTS, SHUTDOWN) are answered
// by the server itself; everything else goes to the PayloadHandler supplied
// by the embedding program. An optional quiescence monitor stops the server
// after a period without clients.
//
// All stop reasons (caller cancellation, SHUTDOWN, quiescence, a hook
// returning false, a fatal handler error) funnel into a single cancel-cause;
// ExitCode maps the result of Serve to a process exit status.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
	"github.com/marmos91/dsserver/internal/ratelimiter"
	"github.com/marmos91/dsserver/pkg/metrics"
	"github.com/marmos91/dsserver/pkg/procmap"
	"github.com/marmos91/dsserver/pkg/workerpool"
)

// Config holds the server settings. Zero values are replaced by defaults.
type Config struct {
	// Port to listen on. 0 binds an ephemeral port (see Addr).
	Port int

	// InstanceName identifies the server in the process map.
	// Default: the bound port number.
	InstanceName string

	// ExecutableName is recorded in the process map. Default: "dsserver".
	ExecutableName string

	// MaxClients bounds concurrently served clients. Further clients wait
	// in the listen backlog until a slot frees. Default: 1024.
	MaxClients int

	// OneShot retires each worker after one client instead of reusing it.
	OneShot bool

	// PrestartWorkers are created before the first client. Must not exceed
	// MaxClients.
	PrestartWorkers int

	// WorkerIdleTTL retires workers idle for longer than this on accept
	// timeouts. 0 keeps idle workers forever.
	WorkerIdleTTL time.Duration

	// Inline serves each client on the listener goroutine, one at a time.
	// Meant for debugging handlers.
	Inline bool

	// MaxQuiescent stops the server after this long without clients.
	// 0 or negative disables quiescence checking.
	MaxQuiescent time.Duration

	// QuiescenceCheckInterval is how often the monitor rechecks while
	// clients are connected. Default: 1s.
	QuiescenceCheckInterval time.Duration

	// AcceptTimeout bounds each accept wait; on expiry the timeout hooks run.
	// Default: 1s.
	AcceptTimeout time.Duration

	// IdleTimeout closes a connection with no request for this long.
	// 0 disables.
	IdleTimeout time.Duration

	// WriteTimeout bounds writing one reply. 0 disables.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight requests on stop before
	// connections are force-closed. Default: 30s.
	ShutdownTimeout time.Duration

	// MaxMessageSize bounds a request body. Default: 1MB.
	MaxMessageSize int

	// MaxAcceptFailures is the number of consecutive accept errors
	// tolerated before the server stops with ErrAcceptFailed. Default: 1000.
	MaxAcceptFailures int

	// RateLimit throttles payload requests. Zero rate disables it.
	RateLimit RateLimitConfig
}

// RateLimitConfig configures the payload request token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (c *Config) applyDefaults() {
	if c.ExecutableName == "" {
		c.ExecutableName = "dsserver"
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 1024
	}
	if c.QuiescenceCheckInterval <= 0 {
		c.QuiescenceCheckInterval = time.Second
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = dsmsg.DefaultMaxMessageSize
	}
	if c.MaxAcceptFailures <= 0 {
		c.MaxAcceptFailures = 1000
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PrestartWorkers < 0 || c.PrestartWorkers > c.MaxClients {
		return fmt.Errorf("prestart workers %d exceeds max clients %d", c.PrestartWorkers, c.MaxClients)
	}
	if c.WorkerIdleTTL < 0 || c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// State is the listener lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateListening
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServerStatus is a point-in-time view of the server.
type ServerStatus struct {
	State         State
	Accepting     bool
	ActiveClients int
	Workers       workerpool.Stats
}

// Option customizes a Server.
type Option func(*Server)

func WithHooks(h Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithMetrics sets the server and pool metrics. Nil values keep no-op
// implementations.
func WithMetrics(sm metrics.ServerMetrics, pm metrics.PoolMetrics) Option {
	return func(s *Server) {
		if sm != nil {
			s.metrics = sm
		}
		s.poolMetrics = pm
	}
}

// WithRegistrar records the server in a process map.
func WithRegistrar(r procmap.Registrar) Option {
	return func(s *Server) {
		if r != nil {
			s.registrar = r
		}
	}
}

// Server is the boss/worker server. Create with New, run with Serve.
type Server struct {
	config      Config
	hooks       Hooks
	registrar   procmap.Registrar
	metrics     metrics.ServerMetrics
	poolMetrics metrics.PoolMetrics
	now         func() time.Time

	counter    *ClientCounter
	dispatcher *Dispatcher

	// ctx is cancelled with the stop cause; it is also the request context
	ctx    context.Context
	cancel context.CancelCauseFunc

	// set during setup, read after ready is closed
	listener *net.TCPListener
	pool     *workerpool.Pool
	port     int

	ready chan struct{}
	done  chan struct{}

	serving   atomic.Bool
	state     atomic.Int32
	accepting atomic.Bool

	activeConns sync.WaitGroup
	conns       sync.Map // conn id -> net.Conn
}

// New creates a server. handler may be nil, in which case payload requests
// get a SERVER_ERROR reply. Configuration errors wrap ErrSetup.
func New(config Config, handler PayloadHandler, opts ...Option) (*Server, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	s := &Server{
		config:    config,
		registrar: procmap.Noop{},
		metrics:   metrics.NewNoopServerMetrics(),
		now:       time.Now,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.counter = NewClientCounter(s.now)
	limiter := ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	s.dispatcher = NewDispatcher(s.counter, handler, limiter, s.metrics)
	s.ctx, s.cancel = context.WithCancelCause(context.Background())

	return s, nil
}

// Serve binds the port and accepts clients until the server stops.
//
// Returns nil when stopped by ctx, Stop or a hook returning false.
// Otherwise it returns the stop cause: ErrShutdownRequested, ErrQuiescent,
// or a fatal error wrapping ErrPayloadHandler, ErrAcceptFailed or ErrSetup.
// Use ExitCode to turn the result into a process status.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer close(s.done)

	if err := s.setup(); err != nil {
		logger.Error("%v", err)
		s.cancel(err)
		s.state.Store(int32(StateStopped))
		return err
	}

	stopWatch := context.AfterFunc(ctx, func() {
		logger.Info("Shutdown signal received: %v", context.Cause(ctx))
		s.cancel(context.Canceled)
	})
	defer stopWatch()

	go func() {
		<-s.ctx.Done()
		s.initiateShutdown()
	}()

	monitor := newQuiescenceMonitor(s.counter, s.config.MaxQuiescent, s.config.QuiescenceCheckInterval,
		s.now, s.beforeExitChain, s.cancel)
	if monitor != nil {
		go monitor.run(s.ctx)
	}

	s.acceptLoop()
	return s.shutdown()
}

func (s *Server) setup() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("%w: listen on port %d: %w", ErrSetup, s.config.Port, err)
	}
	s.listener = ln.(*net.TCPListener)
	s.port = ln.Addr().(*net.TCPAddr).Port
	if s.config.InstanceName == "" {
		s.config.InstanceName = strconv.Itoa(s.port)
	}

	if !s.config.Inline {
		pool, err := workerpool.New(workerpool.Config{
			MaxWorkers: s.config.MaxClients,
			Prestart:   s.config.PrestartWorkers,
			OneShot:    s.config.OneShot,
			IdleTTL:    s.config.WorkerIdleTTL,
		}, s.poolMetrics)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		s.pool = pool
	}

	s.register()

	s.state.Store(int32(StateListening))
	s.accepting.Store(true)
	close(s.ready)

	logger.Info("Server %s listening on port %d", s.config.InstanceName, s.port)
	logger.Debug("Server config: max_clients=%d oneshot=%v inline=%v max_quiescent=%v accept_timeout=%v",
		s.config.MaxClients, s.config.OneShot, s.config.Inline, s.config.MaxQuiescent, s.config.AcceptTimeout)
	return nil
}

func (s *Server) acceptLoop() {
	failures := 0

	for s.ctx.Err() == nil {
		var w *workerpool.Worker
		if s.pool != nil {
			// reserve before accepting: at MaxClients the client stays in
			// the backlog instead of being accepted and dropped
			acquireCtx, cancel := context.WithTimeout(s.ctx, s.config.AcceptTimeout)
			worker, err := s.pool.Acquire(acquireCtx)
			cancel()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, workerpool.ErrPoolClosed) {
					return
				}
				logger.Debug("All %d client slots busy, deferring accept", s.config.MaxClients)
				if !s.timeoutChain() {
					s.cancel(ErrStoppedByHook)
					return
				}
				continue
			}
			w = worker
		}

		conn, err := s.accept()
		if err != nil {
			if w != nil {
				s.pool.Release(w)
			}
			if s.ctx.Err() != nil {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				failures = 0
				s.metrics.RecordAcceptTimeout()
				if !s.timeoutChain() {
					s.cancel(ErrStoppedByHook)
					return
				}
				continue
			}

			failures++
			s.metrics.RecordAcceptFailure()
			logger.Warn("Error accepting connection (%d consecutive): %v", failures, err)
			if failures > s.config.MaxAcceptFailures {
				s.fail(fmt.Errorf("%w: %d consecutive failures: %w", ErrAcceptFailed, failures, err))
				return
			}
			continue
		}

		failures = 0
		s.handoff(w, conn)

		if !s.afterDispatchChain() {
			s.cancel(ErrStoppedByHook)
			return
		}
	}
}

func (s *Server) accept() (net.Conn, error) {
	if err := s.listener.SetDeadline(time.Now().Add(s.config.AcceptTimeout)); err != nil {
		return nil, err
	}
	return s.listener.Accept()
}

// handoff counts the client and gives its connection to w, or serves it
// inline when w is nil.
func (s *Server) handoff(w *workerpool.Worker, conn net.Conn) {
	s.state.Store(int32(StateDispatching))
	defer s.state.Store(int32(StateListening))

	n := s.counter.Connect()
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveClients(n)
	logger.Debug("Connection accepted from %s (active: %d)", conn.RemoteAddr(), n)

	c := s.newConn(conn)
	s.conns.Store(c.id, conn)
	s.activeConns.Add(1)

	task := func(ctx context.Context) {
		defer s.connDone(c)
		ctx, cancel := s.connContext(ctx)
		defer cancel()
		c.serve(ctx)
	}

	if w == nil {
		task(s.ctx)
		return
	}
	if err := s.pool.Dispatch(w, task); err != nil {
		logger.Debug("Dropping connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		s.connDone(c)
	}
}

// connContext derives a connection context from the worker's task context
// that also ends when the server stops, carrying the server's stop cause.
func (s *Server) connContext(workerCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(workerCtx)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (s *Server) connDone(c *clientConn) {
	s.conns.Delete(c.id)

	n, err := s.counter.Disconnect()
	if err != nil {
		logger.Error("Client count for %s: %v", c.conn.RemoteAddr(), err)
	}
	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveClients(n)
	s.activeConns.Done()

	logger.Debug("Connection closed from %s (active: %d)", c.conn.RemoteAddr(), n)
}

// fail stops the server with a fatal cause.
func (s *Server) fail(err error) {
	logger.Error("Stopping server: %v", err)
	s.cancel(err)
}

// requestShutdown runs the before-exit hooks and stops the server. The
// hook result is ignored: SHUTDOWN always exits.
func (s *Server) requestShutdown() {
	s.beforeExitChain()
	s.cancel(ErrShutdownRequested)
}

// initiateShutdown runs once s.ctx is cancelled: it stops accepting and
// interrupts connections waiting for their next request. Requests being
// handled finish and write their reply.
func (s *Server) initiateShutdown() {
	s.accepting.Store(false)
	logger.Debug("Shutdown initiated: %v", context.Cause(s.ctx))

	if err := s.listener.Close(); err != nil {
		logger.Debug("Error closing listener: %v", err)
	}

	now := time.Now()
	s.conns.Range(func(_, value any) bool {
		_ = value.(net.Conn).SetReadDeadline(now)
		return true
	})
}

func (s *Server) shutdown() error {
	cause := context.Cause(s.ctx)
	logger.Info("Graceful shutdown: waiting for %d active client(s) (timeout: %v)",
		s.counter.Active(), s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		logger.Warn("Shutdown timeout exceeded: %d client(s) still active, forcing closure", s.counter.Active())
		s.forceCloseConnections()
		select {
		case <-done:
		case <-time.After(s.config.ShutdownTimeout):
			logger.Error("Connections did not finish after force close")
		}
	}

	if s.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		n, err := s.pool.Shutdown(ctx)
		cancel()
		if err != nil {
			logger.Warn("Worker pool shutdown: %d acknowledged before %v", n, err)
		} else {
			logger.Debug("Worker pool shutdown: %d workers acknowledged", n)
		}
	}

	s.unregister()
	s.state.Store(int32(StateStopped))

	if isCleanStop(cause) {
		logger.Info("Server stopped")
		return nil
	}
	if ExitCode(cause) == ExitClean {
		logger.Info("Server stopped: %v", cause)
	} else {
		logger.Error("Server stopped: %v", cause)
	}
	return cause
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.conns.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err == nil {
			closed++
		}
		s.metrics.RecordConnectionForceClosed()
		return true
	})
	logger.Info("Force-closed %d connection(s)", closed)
}

// Stop stops the server and waits for Serve to return or ctx to end.
// Safe to call more than once and before Serve.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel(context.Canceled)
	if !s.serving.Load() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr waits until the server is listening and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.listener.Addr(), nil
	case <-s.done:
		return nil, context.Cause(s.ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the current state, client count and worker counts.
func (s *Server) Status() ServerStatus {
	st := ServerStatus{
		State:         State(s.state.Load()),
		Accepting:     s.accepting.Load(),
		ActiveClients: s.counter.Active(),
	}

	select {
	case <-s.ready:
		if s.pool != nil {
			st.Workers = s.pool.Stats()
		}
	default:
	}
	return st
}

// Counter exposes the shared client counter.
func (s *Server) Counter() *ClientCounter {
	return s.counter
}
