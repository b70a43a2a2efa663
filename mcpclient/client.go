// Package mcpclient is a minimal MCP client session on top of the HTTP+SSE
// transport. It performs the initialize handshake, correlates responses
// with requests, answers server pings and hands other notifications to the
// caller.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/mcp-sse-client-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-client-go/internal/outbound"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/mcp"
	"github.com/ggoodman/mcp-sse-client-go/ssetransport"
)

var (
	// ErrClientClosed is returned by calls made after, or interrupted by, Close.
	ErrClientClosed = errors.New("client closed")
	// ErrRemoteCancelled is returned when the server cancels a pending call.
	ErrRemoteCancelled = outbound.ErrRemoteCancelled
	// ErrInvalidLoggingLevel is returned by SetLoggingLevel for levels the
	// protocol does not define.
	ErrInvalidLoggingLevel = errors.New("invalid logging level")
)

// NotificationHandler receives server notifications that the client does
// not consume itself. It runs on the transport's stream goroutine.
type NotificationHandler func(ctx context.Context, method mcp.Method, params json.RawMessage)

// ProgressHandler receives decoded notifications/progress updates.
type ProgressHandler func(ctx context.Context, p mcp.ProgressNotificationParams)

// Client is an MCP session bound to one Transport.
type Client struct {
	t   *ssetransport.Transport
	d   *outbound.Dispatcher
	log *slog.Logger

	info            mcp.ImplementationInfo
	capabilities    mcp.ClientCapabilities
	protocolVersion string
	onNotification  NotificationHandler
	onProgress      ProgressHandler

	initialized atomic.Pointer[mcp.InitializeResult]
}

// Option configures a Client.
type Option func(*Client)

// WithClientInfo sets the implementation info sent during initialize.
func WithClientInfo(info mcp.ImplementationInfo) Option {
	return func(c *Client) { c.info = info }
}

// WithCapabilities sets the capabilities advertised during initialize.
func WithCapabilities(caps mcp.ClientCapabilities) Option {
	return func(c *Client) { c.capabilities = caps }
}

// WithProtocolVersion overrides the protocol version requested during
// initialize. The default is mcp.SSEProtocolVersion.
func WithProtocolVersion(v string) Option {
	return func(c *Client) { c.protocolVersion = v }
}

// WithNotificationHandler registers a handler for server notifications.
func WithNotificationHandler(fn NotificationHandler) Option {
	return func(c *Client) { c.onNotification = fn }
}

// WithProgressHandler registers a handler for progress notifications. They
// are not passed to the NotificationHandler when one is set.
func WithProgressHandler(fn ProgressHandler) Option {
	return func(c *Client) { c.onProgress = fn }
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Client that talks through t. The transport must not have
// been connected yet.
func New(t *ssetransport.Transport, opts ...Option) *Client {
	c := &Client{
		t:               t,
		log:             slog.Default(),
		info:            mcp.ImplementationInfo{Name: "mcp-sse-client-go", Version: "0.1.0"},
		protocolVersion: mcp.SSEProtocolVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	c.d = outbound.New(sender{t: t})
	return c
}

// Connect opens the transport, waits for the endpoint handshake and runs
// the MCP initialize exchange. The event stream outlives ctx; it is
// released by Close.
func (c *Client) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	ready, err := c.t.Connect(context.WithoutCancel(ctx), c.handle)
	if err != nil {
		return nil, err
	}
	if err := ready.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sse handshake: %w", err)
	}

	var res mcp.InitializeResult
	req := &mcp.InitializeRequest{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}
	if err := c.Call(ctx, mcp.InitializeMethod, req, &res); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := c.Notify(ctx, mcp.InitializedNotificationMethod, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.initialized.Store(&res)
	c.log.InfoContext(ctx, "client.initialize.ok",
		slog.String("server", res.ServerInfo.Name),
		slog.String("protocol_version", res.ProtocolVersion),
	)
	return &res, nil
}

// InitializeResult returns the server's answer to initialize, or nil before
// Connect succeeds.
func (c *Client) InitializeResult() *mcp.InitializeResult {
	return c.initialized.Load()
}

// Call sends a request and decodes the result into result, which may be
// nil. A JSON-RPC error response is returned as a *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method mcp.Method, params any, result any) error {
	resp, err := c.d.Call(ctx, string(method), params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method mcp.Method, params any) error {
	n, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	return c.t.Send(ctx, n)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, mcp.PingMethod, nil, nil)
}

// ListTools returns one page of tools. Pass the previous NextCursor to
// continue.
func (c *Client) ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error) {
	var res mcp.ListToolsResult
	req := &mcp.ListToolsRequest{PaginatedRequest: mcp.PaginatedRequest{Cursor: cursor}}
	if err := c.Call(ctx, mcp.ToolsListMethod, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CallTool invokes the named tool.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	if err := c.Call(ctx, mcp.ToolsCallMethod, &mcp.CallToolRequest{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetLoggingLevel asks the server to send log messages at level and above.
func (c *Client) SetLoggingLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return fmt.Errorf("%w: %q", ErrInvalidLoggingLevel, level)
	}
	return c.Call(ctx, mcp.LoggingSetLevelMethod, &mcp.SetLevelRequest{Level: level}, nil)
}

// Close fails pending calls with ErrClientClosed and shuts the transport
// down.
func (c *Client) Close(ctx context.Context) error {
	c.d.Close(ErrClientClosed)
	err := c.t.CloseGracefully(ctx)
	if cerr := c.t.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) handle(ctx context.Context, msg *jsonrpc.AnyMessage) {
	switch msg.Type() {
	case jsonrpc.MessageTypeResponse:
		if !c.d.OnResponse(msg.AsResponse()) {
			c.log.DebugContext(ctx, "rpc.response.unmatched")
		}
	case jsonrpc.MessageTypeNotification:
		if c.d.OnNotification(msg) {
			return
		}
		if mcp.Method(msg.Method) == mcp.ProgressNotificationMethod && c.onProgress != nil {
			var p mcp.ProgressNotificationParams
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				c.log.WarnContext(ctx, "rpc.progress.invalid", slog.String("err", err.Error()))
				return
			}
			c.onProgress(ctx, p)
			return
		}
		if c.onNotification != nil {
			c.onNotification(ctx, mcp.Method(msg.Method), msg.Params)
		}
	case jsonrpc.MessageTypeRequest:
		c.reply(ctx, msg.AsRequest())
	}
}

// reply answers server requests. Only ping is supported.
func (c *Client) reply(ctx context.Context, req *jsonrpc.Request) {
	var resp *jsonrpc.Response
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		var err error
		if resp, err = jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{}); err != nil {
			c.log.ErrorContext(ctx, "rpc.reply.fail", slog.String("err", err.Error()))
			return
		}
	default:
		c.log.WarnContext(ctx, "rpc.request.unsupported")
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", nil)
	}

	go func() {
		if err := c.t.Send(context.WithoutCancel(ctx), resp); err != nil {
			c.log.ErrorContext(ctx, "rpc.reply.fail", slog.String("err", err.Error()))
		}
	}()
}

// sender adapts the transport to the dispatcher.
type sender struct {
	t *ssetransport.Transport
}

func (s sender) SendRequest(ctx context.Context, req *jsonrpc.Request) error {
	return s.t.Send(ctx, req)
}

func (s sender) SendCancelled(ctx context.Context, id *jsonrpc.RequestID, reason string) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	n, err := jsonrpc.NewNotification(string(mcp.CancelledNotificationMethod), &mcp.CancelledNotification{
		RequestID: raw,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	return s.t.Send(ctx, n)
}
