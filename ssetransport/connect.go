package ssetransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ggoodman/mcp-sse-client-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-client-go/latch"
	"github.com/ggoodman/mcp-sse-client-go/sse"
)

// Connect opens the event stream and starts delivering inbound messages to
// handler. It returns immediately. The returned future resolves once the
// server announces its message endpoint, is rejected if the stream fails
// or a message cannot be decoded before that, and is cancelled by
// CloseGracefully. A stream that ends after the handshake does not settle
// the future again.
//
// The stream stays open until ctx is done or Close is called.
func (t *Transport) Connect(ctx context.Context, handler MessageHandler) (*latch.Future, error) {
	if handler == nil {
		return nil, fmt.Errorf("message handler is required")
	}
	if t.closing.Load() {
		return nil, ErrClosed
	}
	if !t.connected.CompareAndSwap(false, true) {
		return nil, ErrAlreadyConnected
	}

	future := latch.NewFuture()
	t.pending.Store(future)

	streamCtx, cancel := context.WithCancel(t.logContext(ctx))
	t.mu.Lock()
	t.cancelStream = cancel
	t.mu.Unlock()

	// Close may have run between the checks above and storing cancel.
	if t.closing.Load() {
		cancel()
		future.Cancel()
		return future, nil
	}

	streamURL := t.baseURL + t.ssePath
	t.log.InfoContext(streamCtx, "connect.start", slog.String("url", streamURL))

	t.subscriber.Subscribe(streamCtx, streamURL, sse.HandlerFuncs{
		Event: func(ctx context.Context, ev sse.Event) {
			t.handleEvent(ctx, future, handler, ev)
		},
		Error: func(ctx context.Context, err error) {
			t.handleStreamError(ctx, future, err)
		},
	})

	return future, nil
}

func (t *Transport) handleEvent(ctx context.Context, future *latch.Future, handler MessageHandler, ev sse.Event) {
	if t.closing.Load() {
		return
	}
	ctx = logctx.WithEventData(ctx, &logctx.EventData{Type: ev.Type, ID: ev.ID})

	switch ev.Type {
	case EndpointEventType:
		t.handleEndpoint(ctx, future, ev.Data)
	case MessageEventType:
		t.dispatch(ctx, future, handler, ev.Data)
	default:
		t.log.WarnContext(ctx, "sse.event.unrecognized")
	}
}

func (t *Transport) handleEndpoint(ctx context.Context, future *latch.Future, endpoint string) {
	if !t.endpoint.CompareAndSwap(nil, &endpoint) {
		t.log.WarnContext(ctx, "sse.endpoint.duplicate", slog.String("endpoint", endpoint))
		return
	}
	t.gate.Open()
	t.log.InfoContext(ctx, "sse.endpoint.ok", slog.String("endpoint", endpoint))
	future.Resolve()
}

func (t *Transport) handleStreamError(ctx context.Context, future *latch.Future, err error) {
	if t.closing.Load() {
		t.log.DebugContext(ctx, "sse.stream.closed", slog.String("err", err.Error()))
		return
	}
	t.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	future.Reject(err)
	t.reportError(ctx, err)
}

// resolveEndpoint turns the announced endpoint into a POST target. Absolute
// http(s) URLs are used as-is; anything else is relative to the base URL.
func (t *Transport) resolveEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") {
		return endpoint
	}
	return t.baseURL + endpoint
}
