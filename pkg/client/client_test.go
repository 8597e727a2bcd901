package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts one connection and answers each request with reply(req).
// A nil reply leaves the request unanswered.
func serveOnce(t *testing.T, reply func(*dsmsg.Message) *dsmsg.Message) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			req, err := dsmsg.ReadMessage(conn, 0)
			if err != nil {
				return
			}
			if resp := reply(req); resp != nil {
				if err := dsmsg.WriteMessage(conn, resp); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String()
}

func TestNumClients(t *testing.T) {
	addr := serveOnce(t, func(req *dsmsg.Message) *dsmsg.Message {
		return dsmsg.NewReply(req).AddInt(5)
	})

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.NumClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReplyError(t *testing.T) {
	addr := serveOnce(t, func(req *dsmsg.Message) *dsmsg.Message {
		return dsmsg.NewErrorReply(req, dsmsg.ErrServiceDenied, "draining")
	})

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.IsAlive(context.Background())
	var replyErr *ReplyError
	require.True(t, errors.As(err, &replyErr))
	assert.Equal(t, dsmsg.ErrServiceDenied, replyErr.Code)
	assert.Equal(t, "server replied SERVICE_DENIED: draining", replyErr.Error())
}

func TestDoHonoursContext(t *testing.T) {
	addr := serveOnce(t, func(req *dsmsg.Message) *dsmsg.Message { return nil })

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	t.Run("Deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := c.IsAlive(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)
		err := c.Shutdown(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
