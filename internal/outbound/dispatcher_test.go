package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
)

type recordingTransport struct {
	mu        sync.Mutex
	requests  chan *jsonrpc.Request
	cancelled chan string
	sendErr   error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		requests:  make(chan *jsonrpc.Request, 8),
		cancelled: make(chan string, 8),
	}
}

func (r *recordingTransport) SendRequest(ctx context.Context, req *jsonrpc.Request) error {
	r.mu.Lock()
	err := r.sendErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.requests <- req
	return nil
}

func (r *recordingTransport) SendCancelled(ctx context.Context, id *jsonrpc.RequestID, reason string) error {
	r.cancelled <- id.String()
	return nil
}

func (r *recordingTransport) nextRequest(t *testing.T) *jsonrpc.Request {
	t.Helper()
	select {
	case req := <-r.requests:
		return req
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for outbound request")
		return nil
	}
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

func goCall(ctx context.Context, d *Dispatcher, method string) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		resp, err := d.Call(ctx, method, map[string]any{"k": method})
		ch <- callResult{resp, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for call result")
		return callResult{}
	}
}

func response(t *testing.T, id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	t.Helper()
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	return resp
}

func TestDispatcher_RequestResponse_OutOfOrder(t *testing.T) {
	t.Parallel()

	tr := newRecordingTransport()
	d := New(tr)
	ctx := context.Background()

	c1 := goCall(ctx, d, "test/m1")
	req1 := tr.nextRequest(t)
	c2 := goCall(ctx, d, "test/m2")
	req2 := tr.nextRequest(t)

	if req1.ID.String() == req2.ID.String() {
		t.Fatalf("expected distinct ids, got %s twice", req1.ID)
	}

	if !d.OnResponse(response(t, req2.ID, map[string]any{"n": 2})) {
		t.Fatalf("response for %s not matched", req2.ID)
	}
	if !d.OnResponse(response(t, req1.ID, map[string]any{"n": 1})) {
		t.Fatalf("response for %s not matched", req1.ID)
	}

	r1, r2 := await(t, c1), await(t, c2)
	if r1.err != nil || r2.err != nil {
		t.Fatalf("unexpected errors %v / %v", r1.err, r2.err)
	}
	if string(r1.resp.Result) != `{"n":1}` || string(r2.resp.Result) != `{"n":2}` {
		t.Fatalf("responses crossed: %s / %s", r1.resp.Result, r2.resp.Result)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected no pending calls, got %d", d.Pending())
	}
}

func TestDispatcher_MatchesStringEncodedNumericID(t *testing.T) {
	t.Parallel()

	tr := newRecordingTransport()
	d := New(tr)

	c := goCall(context.Background(), d, "test/m")
	req := tr.nextRequest(t)

	var id jsonrpc.RequestID
	if err := json.Unmarshal([]byte(`"`+req.ID.String()+`"`), &id); err != nil {
		t.Fatalf("decode id: %v", err)
	}
	d.OnResponse(response(t, &id, "ok"))
	if r := await(t, c); r.err != nil {
		t.Fatalf("unexpected error %v", r.err)
	}
}

func TestDispatcher_UnmatchedResponseIgnored(t *testing.T) {
	t.Parallel()

	d := New(newRecordingTransport())
	if d.OnResponse(response(t, jsonrpc.NewRequestID(99), "x")) {
		t.Fatalf("unexpected match for unknown id")
	}
	if d.OnResponse(nil) {
		t.Fatalf("unexpected match for nil response")
	}
}

func TestDispatcher_ContextCancelSendsCancelled(t *testing.T) {
	t.Parallel()

	tr := newRecordingTransport()
	d := New(tr)
	ctx, cancel := context.WithCancel(context.Background())

	c := goCall(ctx, d, "test/slow")
	req := tr.nextRequest(t)
	cancel()

	if r := await(t, c); !errors.Is(r.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.err)
	}
	select {
	case id := <-tr.cancelled:
		if id != req.ID.String() {
			t.Fatalf("cancelled %s, want %s", id, req.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("no cancellation sent")
	}
	if d.Pending() != 0 {
		t.Fatalf("cancelled call still pending")
	}
}

func TestDispatcher_RemoteCancelled(t *testing.T) {
	t.Parallel()

	tr := newRecordingTransport()
	d := New(tr)

	c := goCall(context.Background(), d, "test/m")
	req := tr.nextRequest(t)

	note, err := jsonrpc.NewNotification("notifications/cancelled", map[string]any{"requestId": req.ID, "reason": "busy"})
	if err != nil {
		t.Fatalf("build notification: %v", err)
	}
	msg := &jsonrpc.AnyMessage{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: note.Method, Params: note.Params}
	if !d.OnNotification(msg) {
		t.Fatalf("cancellation not consumed")
	}
	if r := await(t, c); !errors.Is(r.err, ErrRemoteCancelled) {
		t.Fatalf("expected ErrRemoteCancelled, got %v", r.err)
	}
}

func TestDispatcher_OtherNotificationsNotConsumed(t *testing.T) {
	t.Parallel()

	d := New(newRecordingTransport())
	msg := &jsonrpc.AnyMessage{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "notifications/progress", Params: json.RawMessage(`{}`)}
	if d.OnNotification(msg) {
		t.Fatalf("progress notification consumed")
	}
}

func TestDispatcher_SendFailureReturnsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tr := newRecordingTransport()
	tr.sendErr = boom
	d := New(tr)

	if _, err := d.Call(context.Background(), "test/m", nil); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
	if d.Pending() != 0 {
		t.Fatalf("failed call left pending")
	}
}

func TestDispatcher_CloseFailsPendingAndRejectsNew(t *testing.T) {
	t.Parallel()

	tr := newRecordingTransport()
	d := New(tr)
	closing := errors.New("shutting down")

	c := goCall(context.Background(), d, "test/m")
	tr.nextRequest(t)

	d.Close(closing)
	d.Close(errors.New("ignored"))

	if r := await(t, c); !errors.Is(r.err, closing) {
		t.Fatalf("expected close error, got %v", r.err)
	}
	if _, err := d.Call(context.Background(), "test/m", nil); !errors.Is(err, closing) {
		t.Fatalf("expected close error for new call, got %v", err)
	}
}
