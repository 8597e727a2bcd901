package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
)

// clientConn serves the requests of one accepted client until the client
// closes, a timeout or error occurs, or the server stops.
type clientConn struct {
	server *Server
	conn   net.Conn
	id     string
}

func (s *Server) newConn(conn net.Conn) *clientConn {
	return &clientConn{server: s, conn: conn, id: uuid.NewString()}
}

// serve runs the request loop. The connection is closed on return.
func (c *clientConn) serve(ctx context.Context) {
	addr := c.conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v\n%s", addr, r, debug.Stack())
		}
		_ = c.conn.Close()
	}()

	cfg := &c.server.config
	for {
		if cfg.IdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
				logger.Warn("Failed to set deadline for %s: %v", addr, err)
			}
		} else {
			_ = c.conn.SetReadDeadline(time.Time{})
		}

		// checked after arming the deadline: a stop either happened before
		// this check or its read-deadline interrupt comes after our reset
		if ctx.Err() != nil {
			logger.Debug("Connection from %s closed due to server shutdown", addr)
			return
		}

		msg, err := dsmsg.ReadMessage(c.conn, cfg.MaxMessageSize)
		if err != nil {
			c.readFailed(addr, err)
			return
		}
		c.server.counter.Touch()

		if ctx.Err() != nil {
			_ = c.write(dsmsg.NewErrorReply(msg, dsmsg.ErrServiceDenied, "server shutting down"))
			return
		}

		if !c.handle(ctx, addr, msg) {
			return
		}
	}
}

// handle dispatches one request and writes the reply. It returns false
// when the connection should close.
func (c *clientConn) handle(ctx context.Context, addr string, msg *dsmsg.Message) bool {
	req := &Request{Message: msg, RemoteAddr: c.conn.RemoteAddr(), ConnID: c.id}

	reply, err := c.server.dispatcher.Dispatch(ctx, req)
	if err != nil {
		logger.Error("Fatal payload handler error for %s: %v", addr, err)
		_ = c.write(dsmsg.NewErrorReply(msg, dsmsg.ErrServerError, "payload handler failed"))
		c.server.fail(err)
		return false
	}

	if err := c.write(reply.Message); err != nil {
		logger.Debug("Error writing reply to %s: %v", addr, err)
		return false
	}

	if reply.Shutdown {
		c.server.requestShutdown()
		return false
	}
	return true
}

func (c *clientConn) readFailed(addr string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed by client", addr)
	case errors.Is(err, dsmsg.ErrMalformed), errors.Is(err, dsmsg.ErrMessageTooLarge):
		logger.Warn("Bad message from %s: %v", addr, err)
		_ = c.write(dsmsg.NewErrorReply(nil, dsmsg.ErrBadMessage, err.Error()))
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out: %v", addr, err)
	default:
		logger.Debug("Error reading request from %s: %v", addr, err)
	}
}

func (c *clientConn) write(msg *dsmsg.Message) error {
	if wt := c.server.config.WriteTimeout; wt > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wt))
	}
	return dsmsg.WriteMessage(c.conn, msg)
}
