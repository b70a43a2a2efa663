package ssetransport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-sse-client-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/latch"
)

func (t *Transport) dispatch(ctx context.Context, future *latch.Future, handler MessageHandler, data string) {
	var msg jsonrpc.AnyMessage
	if err := t.codec.Unmarshal([]byte(data), &msg); err != nil {
		err = fmt.Errorf("%w: %w", ErrDecodeMessage, err)
		t.log.ErrorContext(ctx, "sse.message.decode.fail", slog.String("err", err.Error()))
		future.Reject(err)
		t.reportError(ctx, err)
		return
	}

	ctx = logctx.WithRPCMessage(ctx, rpcLogData(&msg))
	t.log.DebugContext(ctx, "sse.message.ok")
	t.record(ctx, journal.Inbound, jsonrpc.Message(data))

	handler(ctx, &msg)
}

// Unmarshal converts a loosely typed value, such as a map decoded from a
// message's params, into v.
func (t *Transport) Unmarshal(data any, v any) error {
	if err := t.codec.Convert(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}
	return nil
}

func (t *Transport) record(ctx context.Context, dir journal.Direction, msg jsonrpc.Message) {
	if t.journal == nil {
		return
	}
	if _, err := t.journal.Append(ctx, t.sessionID, dir, msg); err != nil {
		t.log.WarnContext(ctx, "journal.append.fail", slog.String("dir", string(dir)), slog.String("err", err.Error()))
	}
}

func rpcLogData(msg *jsonrpc.AnyMessage) *logctx.RPCMessage {
	data := &logctx.RPCMessage{Method: msg.Method, Type: string(msg.Type())}
	if !msg.ID.IsNil() {
		data.ID = msg.ID.String()
	}
	return data
}
