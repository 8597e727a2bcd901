// Package client talks to a dsserver over its wire protocol. It is used by
// the dsctl admin tool and by tests.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
)

// ReplyError is returned when the server answers with a non-zero error code.
type ReplyError struct {
	Code   dsmsg.ErrorCode
	Reason string
}

func (e *ReplyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server replied %s", e.Code)
	}
	return fmt.Sprintf("server replied %s: %s", e.Code, e.Reason)
}

// Client is a single connection to a server. Requests on one Client are
// serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	maxSize int
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, maxSize: dsmsg.DefaultMaxMessageSize}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends req and waits for the reply. ctx's deadline, if any, bounds the
// whole exchange. A reply carrying an error code is returned together with
// a *ReplyError.
func (c *Client) Do(ctx context.Context, req *dsmsg.Message) (*dsmsg.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// unblock I/O when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := dsmsg.WriteMessage(c.conn, req); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("send request: %w", err))
	}

	reply, err := dsmsg.ReadMessage(c.conn, c.maxSize)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("read reply: %w", err))
	}

	if code := reply.ErrorCode(); code != dsmsg.ErrNone {
		return reply, &ReplyError{Code: code, Reason: reply.ErrString()}
	}
	return reply, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	// the socket deadline can fire just before the context timer does
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// IsAlive sends IS_ALIVE.
func (c *Client) IsAlive(ctx context.Context) error {
	_, err := c.Do(ctx, dsmsg.NewRequest(dsmsg.CategoryServerStatus, dsmsg.TypeIsAlive))
	return err
}

// NumClients returns the server's active client count, which includes
// this connection.
func (c *Client) NumClients(ctx context.Context) (int, error) {
	reply, err := c.Do(ctx, dsmsg.NewRequest(dsmsg.CategoryServerStatus, dsmsg.TypeGetNumClients))
	if err != nil {
		return 0, err
	}
	n, err := reply.Int(0)
	if err != nil {
		return 0, fmt.Errorf("GET_NUM_CLIENTS reply: %w", err)
	}
	return int(n), nil
}

// Shutdown asks the server to exit. It returns once the server has
// acknowledged.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Do(ctx, dsmsg.NewRequest(dsmsg.CategoryServerStatus, dsmsg.TypeShutdown))
	return err
}
