package ssetransport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/sse"
)

// logBridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type logBridge struct {
	slog.Handler
	t     testing.TB
	buf   *bytes.Buffer
	mu    *sync.Mutex
	ended *bool
}

// Handle implements slog.Handler.
func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Stream goroutines can outlive the test; t.Log would panic then.
	if *b.ended {
		return nil
	}

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	output = bytes.TrimSuffix(output, []byte("\n"))

	b.t.Helper()
	b.t.Log(string(output))
	return nil
}

// WithAttrs implements slog.Handler.
func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, ended: b.ended, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, ended: b.ended, Handler: b.Handler.WithGroup(name)}
}

func testLogger(t *testing.T) *slog.Logger {
	b := &logBridge{
		t:     t,
		buf:   &bytes.Buffer{},
		mu:    &sync.Mutex{},
		ended: new(bool),
	}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	t.Cleanup(func() {
		b.mu.Lock()
		*b.ended = true
		b.mu.Unlock()
	})
	return slog.New(b)
}

// fakeSubscriber hands control of the event stream to the test.
type fakeSubscriber struct {
	mu         sync.Mutex
	url        string
	ctx        context.Context
	h          sse.Handler
	subscribed chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: make(chan struct{})}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, url string, h sse.Handler) {
	f.mu.Lock()
	f.ctx, f.url, f.h = ctx, url, h
	f.mu.Unlock()
	close(f.subscribed)
}

func (f *fakeSubscriber) handler(t *testing.T) (context.Context, sse.Handler) {
	t.Helper()
	select {
	case <-f.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("transport never subscribed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx, f.h
}

func (f *fakeSubscriber) emit(t *testing.T, typ, data string) {
	t.Helper()
	ctx, h := f.handler(t)
	h.OnEvent(ctx, sse.Event{Type: typ, Data: data})
}

func (f *fakeSubscriber) fail(t *testing.T, err error) {
	t.Helper()
	ctx, h := f.handler(t)
	h.OnError(ctx, err)
}

// inbox collects the messages delivered to a MessageHandler.
type inbox chan *jsonrpc.AnyMessage

func (in inbox) handle(_ context.Context, msg *jsonrpc.AnyMessage) { in <- msg }

func (in inbox) next(t *testing.T) *jsonrpc.AnyMessage {
	t.Helper()
	select {
	case msg := <-in:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for inbound message")
		return nil
	}
}

func (in inbox) empty(t *testing.T) {
	t.Helper()
	select {
	case msg := <-in:
		t.Fatalf("unexpected inbound message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func newRequest(t *testing.T, id any, method string) *jsonrpc.Request {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
