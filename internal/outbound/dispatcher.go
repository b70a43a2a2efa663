package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/mcp"
)

// Transport abstracts how requests and cancellations reach the peer.
type Transport interface {
	// SendRequest emits req. The pending call is registered before
	// SendRequest runs, so a response can never arrive unobserved.
	SendRequest(ctx context.Context, req *jsonrpc.Request) error
	// SendCancelled emits a notifications/cancelled for id.
	SendCancelled(ctx context.Context, id *jsonrpc.RequestID, reason string) error
}

var (
	// ErrDispatcherClosed indicates the dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrRemoteCancelled indicates the peer cancelled the request.
	ErrRemoteCancelled = errors.New("remote cancelled")
)

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher correlates client-initiated JSON-RPC requests with the
// responses that arrive on the event stream.
type Dispatcher struct {
	t Transport

	mu       sync.Mutex
	pending  map[string]*pendingCall // id.String() -> call
	closeErr error

	nextID atomic.Uint64
	closed atomic.Bool
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport) *Dispatcher {
	return &Dispatcher{t: t, pending: make(map[string]*pendingCall)}
}

// Call sends a JSON-RPC request and waits for the matching response or ctx.
// When ctx ends first, a cancellation is sent to the peer best effort.
// A JSON-RPC error response is returned as a response, not an error.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.NewRequestID(d.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		err := d.closeErr
		d.mu.Unlock()
		return nil, err
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.t.SendRequest(ctx, req); err != nil {
		d.forget(key)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.forget(key)
		_ = d.t.SendCancelled(context.WithoutCancel(ctx), id, ctx.Err().Error())
		return nil, ctx.Err()
	}
}

// Pending reports the number of calls awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// OnResponse delivers an incoming response to a waiting call. It reports
// whether a call was waiting; unmatched responses are otherwise ignored.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID.IsNil() {
		return false
	}
	pc, ok := d.take(resp.ID.String())
	if ok {
		pc.respCh <- resp
	}
	return ok
}

// OnNotification processes peer notifications relevant to outbound calls.
// It reports whether the notification was consumed.
func (d *Dispatcher) OnNotification(msg *jsonrpc.AnyMessage) bool {
	switch msg.Method {
	case string(mcp.CancelledNotificationMethod):
		var p mcp.CancelledNotification
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return false
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(p.RequestID, &id); err != nil {
			return false
		}
		pc, ok := d.take(id.String())
		if ok {
			pc.errCh <- ErrRemoteCancelled
		}
		return ok
	default:
		return false
	}
}

// Close fails all pending calls with err and prevents new calls. A nil err
// means ErrDispatcherClosed.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.closeErr = err
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func (d *Dispatcher) take(key string) (*pendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	return pc, ok
}

func (d *Dispatcher) forget(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}
