package server

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
	"github.com/marmos91/dsserver/internal/ratelimiter"
	"github.com/marmos91/dsserver/pkg/metrics"
)

// Request is one decoded message together with where it came from.
type Request struct {
	Message    *dsmsg.Message
	RemoteAddr net.Addr
	ConnID     string
}

// PayloadHandler serves every request that is not an administrative
// command. The message is passed through unmodified.
//
// A returned error, or a panic, is fatal: the server stops with
// ErrPayloadHandler. Recoverable application errors should be reported to
// the client in the reply instead. A nil reply with a nil error sends an
// empty success reply.
type PayloadHandler interface {
	HandlePayload(ctx context.Context, req *Request) (*dsmsg.Message, error)
}

// PayloadHandlerFunc adapts a function to PayloadHandler.
type PayloadHandlerFunc func(ctx context.Context, req *Request) (*dsmsg.Message, error)

func (f PayloadHandlerFunc) HandlePayload(ctx context.Context, req *Request) (*dsmsg.Message, error) {
	return f(ctx, req)
}

// Reply is what a connection writes back for one request.
type Reply struct {
	Message *dsmsg.Message

	// Shutdown is set for an accepted SHUTDOWN command. The connection
	// stops the server once Message has been written.
	Shutdown bool
}

// Dispatcher routes requests to the administrative handler or the payload
// handler.
type Dispatcher struct {
	counter *ClientCounter
	payload PayloadHandler
	limiter *ratelimiter.Limiter
	metrics metrics.ServerMetrics
}

// NewDispatcher creates a dispatcher. payload and limiter may be nil; a nil
// m uses no-op metrics.
func NewDispatcher(counter *ClientCounter, payload PayloadHandler, limiter *ratelimiter.Limiter, m metrics.ServerMetrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}
	return &Dispatcher{counter: counter, payload: payload, limiter: limiter, metrics: m}
}

// Dispatch handles one request. The only error it returns is a payload
// handler failure, wrapped in ErrPayloadHandler.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (Reply, error) {
	if req.Message.IsAdmin() {
		start := time.Now()
		reply, kind := d.handleAdmin(req.Message)
		d.metrics.RecordRequest(kind, time.Since(start), nil)
		return reply, nil
	}

	start := time.Now()
	reply, err := d.handlePayload(ctx, req)
	d.metrics.RecordRequest("PAYLOAD", time.Since(start), err)
	return reply, err
}

// handleAdmin cannot fail: every administrative type gets a reply.
func (d *Dispatcher) handleAdmin(msg *dsmsg.Message) (Reply, string) {
	switch msg.Header.Type {
	case dsmsg.TypeIsAlive:
		return Reply{Message: dsmsg.NewReply(msg)}, "IS_ALIVE"

	case dsmsg.TypeGetNumClients:
		n := d.counter.Active()
		logger.Debug("GET_NUM_CLIENTS: %d", n)
		return Reply{Message: dsmsg.NewReply(msg).AddInt(int32(n))}, "GET_NUM_CLIENTS"

	case dsmsg.TypeShutdown:
		logger.Info("SHUTDOWN command received")
		return Reply{Message: dsmsg.NewReply(msg), Shutdown: true}, "SHUTDOWN"

	default:
		logger.Warn("Unknown server status command %d", msg.Header.Type)
		reason := fmt.Sprintf("unknown server status command %d", msg.Header.Type)
		return Reply{Message: dsmsg.NewErrorReply(msg, dsmsg.ErrUnknownCommand, reason)}, "UNKNOWN"
	}
}

func (d *Dispatcher) handlePayload(ctx context.Context, req *Request) (reply Reply, err error) {
	if d.payload == nil {
		return Reply{Message: dsmsg.NewErrorReply(req.Message, dsmsg.ErrServerError, "no payload handler")}, nil
	}

	if !d.limiter.Allow() {
		d.metrics.RecordRateLimited()
		if werr := d.limiter.Wait(ctx); werr != nil {
			return Reply{Message: dsmsg.NewErrorReply(req.Message, dsmsg.ErrServiceDenied, "server busy")}, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in payload handler for %s: %v\n%s", req.RemoteAddr, r, debug.Stack())
			reply = Reply{}
			err = fmt.Errorf("%w: panic: %v", ErrPayloadHandler, r)
		}
	}()

	msg, herr := d.payload.HandlePayload(ctx, req)
	if herr != nil {
		return Reply{}, fmt.Errorf("%w: category %d type %d from %s: %w",
			ErrPayloadHandler, req.Message.Header.Category, req.Message.Header.Type, req.RemoteAddr, herr)
	}
	if msg == nil {
		msg = dsmsg.NewReply(req.Message)
	}
	return Reply{Message: msg}, nil
}
