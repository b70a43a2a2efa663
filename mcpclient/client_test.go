package mcpclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-client-go/internal/ssetest"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/mcp"
	"github.com/ggoodman/mcp-sse-client-go/mcpclient"
	"github.com/ggoodman/mcp-sse-client-go/ssetransport"
)

const waitTimeout = 2 * time.Second

// quietLogger drops everything; stream goroutines may log after a test ends.
func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newClient(t *testing.T, srv *ssetest.Server, opts ...mcpclient.Option) *mcpclient.Client {
	t.Helper()
	tr, err := ssetransport.New(srv.URL,
		ssetransport.WithHTTPClient(srv.Client()),
		ssetransport.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	c := mcpclient.New(tr, append([]mcpclient.Option{mcpclient.WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// connected returns a client that has completed initialize, with the
// handshake POSTs already drained from srv.
func connected(t *testing.T, srv *ssetest.Server, opts ...mcpclient.Option) *mcpclient.Client {
	t.Helper()
	c := newClient(t, srv, opts...)
	if _, err := c.Connect(testContext(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.NextPost(t, waitTimeout) // initialize
	srv.NextPost(t, waitTimeout) // notifications/initialized
	return c
}

func request(t *testing.T, id any, method string, params any) *jsonrpc.Request {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestClient_ConnectRunsInitialize(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	c := newClient(t, srv, mcpclient.WithClientInfo(mcp.ImplementationInfo{Name: "tester", Version: "1.2.3"}))

	res, err := c.Connect(testContext(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if res.ServerInfo.Name != "ssetest" || res.ProtocolVersion != mcp.SSEProtocolVersion {
		t.Fatalf("unexpected initialize result %+v", res)
	}
	if c.InitializeResult() == nil {
		t.Fatalf("initialize result not retained")
	}

	first := srv.NextPost(t, waitTimeout)
	if first.Message.Method != string(mcp.InitializeMethod) {
		t.Fatalf("expected initialize first, got %q", first.Message.Method)
	}
	var params mcp.InitializeRequest
	if err := json.Unmarshal(first.Message.Params, &params); err != nil {
		t.Fatalf("decode initialize params: %v", err)
	}
	if params.ClientInfo.Name != "tester" || params.ProtocolVersion != mcp.SSEProtocolVersion {
		t.Fatalf("unexpected initialize params %+v", params)
	}

	note := srv.NextPost(t, waitTimeout)
	if note.Message.Method != string(mcp.InitializedNotificationMethod) || note.Message.Type() != jsonrpc.MessageTypeNotification {
		t.Fatalf("expected initialized notification, got %+v", note.Message)
	}
}

func TestClient_PingAndListTools(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	c := connected(t, srv)
	ctx := testContext(t)

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	res, err := c.ListTools(ctx, "")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools %+v", res.Tools)
	}
	if string(res.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Fatalf("schema not relayed verbatim: %s", res.Tools[0].InputSchema)
	}
}

func TestClient_ErrorResponseIsJSONRPCError(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults(),
		ssetest.WithResponder(string(mcp.ToolsCallMethod), func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "unknown tool"}
		}),
	)
	c := connected(t, srv)

	_, err := c.CallTool(testContext(t), "missing", map[string]any{"x": 1})
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *jsonrpc.Error, got %v", err)
	}
	if rpcErr.Code != jsonrpc.ErrorCodeInvalidParams || rpcErr.Message != "unknown tool" {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestClient_CallToolDecodesResult(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults(),
		ssetest.WithResponder(string(mcp.ToolsCallMethod), func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			var p mcp.CallToolRequest
			_ = json.Unmarshal(req.Params, &p)
			return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "called " + p.Name}}}, nil
		}),
	)
	c := connected(t, srv)

	res, err := c.CallTool(testContext(t), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "called echo" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClient_AnswersServerPing(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	connected(t, srv)

	srv.PushMessage(t, request(t, "srv-ping", string(mcp.PingMethod), nil))

	p := srv.NextPost(t, waitTimeout)
	if p.Message.Type() != jsonrpc.MessageTypeResponse || p.Message.ID.String() != "srv-ping" {
		t.Fatalf("expected ping response, got %+v", p.Message)
	}
	if p.Message.Error != nil || string(p.Message.Result) != "{}" {
		t.Fatalf("unexpected ping reply %s / %+v", p.Message.Result, p.Message.Error)
	}
}

func TestClient_RejectsUnsupportedServerRequest(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	connected(t, srv)

	srv.PushMessage(t, request(t, 41, "sampling/createMessage", map[string]any{}))

	p := srv.NextPost(t, waitTimeout)
	if p.Message.Error == nil || p.Message.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", p.Message)
	}
	if p.Message.ID.String() != "41" {
		t.Fatalf("reply has id %s, want 41", p.Message.ID)
	}
}

func TestClient_NotificationHandler(t *testing.T) {
	got := make(chan mcp.LoggingMessageNotification, 1)
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	connected(t, srv, mcpclient.WithNotificationHandler(func(ctx context.Context, method mcp.Method, params json.RawMessage) {
		if method != mcp.LoggingMessageNotificationMethod {
			return
		}
		var n mcp.LoggingMessageNotification
		if err := json.Unmarshal(params, &n); err == nil {
			got <- n
		}
	}))

	note, err := jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), &mcp.LoggingMessageNotification{
		Level: mcp.LoggingLevelWarning,
		Data:  "disk almost full",
	})
	if err != nil {
		t.Fatalf("build notification: %v", err)
	}
	srv.PushMessage(t, note)

	select {
	case n := <-got:
		if n.Level != mcp.LoggingLevelWarning || n.Data != "disk almost full" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("notification not delivered")
	}
}

// pendingCall starts a call to a method the server never answers and
// returns the id it was sent with.
func pendingCall(t *testing.T, ctx context.Context, c *mcpclient.Client, srv *ssetest.Server) (*jsonrpc.RequestID, <-chan error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- c.Call(ctx, "slow/op", nil, nil) }()
	p := srv.NextPost(t, waitTimeout)
	if p.Message.Method != "slow/op" {
		t.Fatalf("unexpected post %+v", p.Message)
	}
	return p.Message.ID, errc
}

func awaitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("call did not return")
		return nil
	}
}

func TestClient_RemoteCancellation(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	c := connected(t, srv)

	id, errc := pendingCall(t, testContext(t), c, srv)

	note, err := jsonrpc.NewNotification(string(mcp.CancelledNotificationMethod), map[string]any{"requestId": id, "reason": "busy"})
	if err != nil {
		t.Fatalf("build notification: %v", err)
	}
	srv.PushMessage(t, note)

	if err := awaitErr(t, errc); !errors.Is(err, mcpclient.ErrRemoteCancelled) {
		t.Fatalf("expected ErrRemoteCancelled, got %v", err)
	}
}

func TestClient_LocalCancellationNotifiesServer(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	c := connected(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	id, errc := pendingCall(t, ctx, c, srv)
	cancel()

	if err := awaitErr(t, errc); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	p := srv.NextPost(t, waitTimeout)
	if p.Message.Method != string(mcp.CancelledNotificationMethod) {
		t.Fatalf("expected cancelled notification, got %+v", p.Message)
	}
	var params struct {
		RequestID *jsonrpc.RequestID `json:"requestId"`
	}
	if err := json.Unmarshal(p.Message.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.RequestID.String() != id.String() {
		t.Fatalf("cancelled %s, want %s", params.RequestID, id)
	}
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	c := connected(t, srv)

	_, errc := pendingCall(t, testContext(t), c, srv)

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := awaitErr(t, errc); !errors.Is(err, mcpclient.ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	if err := c.Ping(testContext(t)); !errors.Is(err, mcpclient.ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed after close, got %v", err)
	}
}

func TestClient_ConnectFailsWhenStreamUnavailable(t *testing.T) {
	tr, err := ssetransport.New("http://127.0.0.1:1", ssetransport.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	c := mcpclient.New(tr, mcpclient.WithLogger(quietLogger()))
	defer c.Close(context.Background())

	if _, err := c.Connect(testContext(t)); err == nil {
		t.Fatalf("expected connect to fail")
	}
}

func TestClient_SetLoggingLevel(t *testing.T) {
	levels := make(chan mcp.LoggingLevel, 1)
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults(),
		ssetest.WithResponder(string(mcp.LoggingSetLevelMethod), func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			var p mcp.SetLevelRequest
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
			}
			levels <- p.Level
			return mcp.EmptyResult{}, nil
		}),
	)
	c := connected(t, srv)
	ctx := testContext(t)

	if err := c.SetLoggingLevel(ctx, mcp.LoggingLevelNotice); err != nil {
		t.Fatalf("SetLoggingLevel: %v", err)
	}
	select {
	case lvl := <-levels:
		if lvl != mcp.LoggingLevelNotice {
			t.Fatalf("server saw level %q", lvl)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("setLevel never reached the server")
	}

	if err := c.SetLoggingLevel(ctx, "verbose"); !errors.Is(err, mcpclient.ErrInvalidLoggingLevel) {
		t.Fatalf("expected ErrInvalidLoggingLevel, got %v", err)
	}
}

func TestClient_ProgressHandler(t *testing.T) {
	got := make(chan mcp.ProgressNotificationParams, 1)
	others := make(chan mcp.Method, 1)
	srv := ssetest.NewServer(t, ssetest.WithMCPDefaults())
	connected(t, srv,
		mcpclient.WithProgressHandler(func(ctx context.Context, p mcp.ProgressNotificationParams) { got <- p }),
		mcpclient.WithNotificationHandler(func(ctx context.Context, method mcp.Method, params json.RawMessage) { others <- method }),
	)

	note, err := jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), map[string]any{
		"progressToken": "tok-1",
		"progress":      3,
		"total":         4,
		"message":       "copying",
	})
	if err != nil {
		t.Fatalf("build notification: %v", err)
	}
	srv.PushMessage(t, note)

	select {
	case p := <-got:
		if p.ProgressToken != "tok-1" || p.Progress != 3 || p.Total != 4 || p.Message != "copying" {
			t.Fatalf("unexpected progress %+v", p)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("progress not delivered")
	}
	select {
	case m := <-others:
		t.Fatalf("progress also reached the notification handler as %s", m)
	default:
	}
}
