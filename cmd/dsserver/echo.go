package main

import (
	"context"

	"github.com/marmos91/dsserver/internal/logger"
	"github.com/marmos91/dsserver/internal/protocol/dsmsg"
	"github.com/marmos91/dsserver/pkg/server"
)

// echoHandler answers every payload request with a copy of its parts.
// Applications embedding the server supply their own handler.
func echoHandler() server.PayloadHandler {
	return server.PayloadHandlerFunc(func(ctx context.Context, req *server.Request) (*dsmsg.Message, error) {
		logger.Debug("Payload from %s: category=%d type=%d parts=%d",
			req.RemoteAddr, req.Message.Header.Category, req.Message.Header.Type, len(req.Message.Parts))

		reply := dsmsg.NewReply(req.Message)
		reply.Parts = append(reply.Parts, req.Message.Parts...)
		return reply, nil
	})
}
