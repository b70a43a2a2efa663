// Package ssetest provides a scripted MCP server speaking the HTTP+SSE
// transport, for exercising clients in tests.
package ssetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/mcp"
	"github.com/ggoodman/mcp-sse-client-go/sse"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// DefaultEndpoint is announced to every stream unless WithEndpoint says
// otherwise.
const DefaultEndpoint = "/messages?sessionId=test"

// Responder answers a client request. Returning a non-nil *jsonrpc.Error
// sends an error response instead of result.
type Responder func(req *jsonrpc.Request) (result any, rpcErr *jsonrpc.Error)

// Post is a message received on the message endpoint.
type Post struct {
	Path        string
	RawQuery    string
	ContentType string
	Body        []byte
	Message     *jsonrpc.AnyMessage
}

// Server is a fake MCP server. The stream lives at /sse; POSTs to any
// other path are treated as client messages.
type Server struct {
	URL string

	srv        *httptest.Server
	endpoint   string
	postStatus int
	responders map[string]Responder

	events    chan sse.Event
	posts     chan Post
	connected chan struct{}
	done      chan struct{}

	connectOnce sync.Once
	closeOnce   sync.Once

	mu       sync.Mutex
	received []Post
}

// Option configures a Server.
type Option func(*Server)

// WithEndpoint changes the announced endpoint. An empty string disables the
// automatic announcement so tests can send it with Push.
func WithEndpoint(endpoint string) Option {
	return func(s *Server) { s.endpoint = endpoint }
}

// WithPostStatus changes the status code returned for POSTs. The default is
// 202 Accepted.
func WithPostStatus(code int) Option {
	return func(s *Server) { s.postStatus = code }
}

// WithResponder answers requests for method on the stream.
func WithResponder(method string, fn Responder) Option {
	return func(s *Server) { s.responders[method] = fn }
}

// WithMCPDefaults answers initialize, ping and tools/list.
func WithMCPDefaults() Option {
	return func(s *Server) {
		s.responders[string(mcp.InitializeMethod)] = func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			return &mcp.InitializeResult{
				ProtocolVersion: mcp.SSEProtocolVersion,
				ServerInfo:      mcp.ImplementationInfo{Name: "ssetest", Version: "0.0.0"},
			}, nil
		}
		s.responders[string(mcp.PingMethod)] = func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			return struct{}{}, nil
		}
		s.responders[string(mcp.ToolsListMethod)] = func(req *jsonrpc.Request) (any, *jsonrpc.Error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{{
				Name:        "echo",
				Description: "Echoes its input",
				InputSchema: json.RawMessage(`{"type":"object"}`),
			}}}, nil
		}
	}
}

// NewServer starts a Server that is shut down when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		endpoint:   DefaultEndpoint,
		postStatus: http.StatusAccepted,
		responders: make(map[string]Responder),
		events:     make(chan sse.Event, 64),
		posts:      make(chan Post, 64),
		connected:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleStream)
	mux.HandleFunc("POST /", s.handlePost)

	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close stops every open stream and shuts the server down.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
}

// Client returns an HTTP client configured for the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Connected is closed once the first stream has been opened.
func (s *Server) Connected() <-chan struct{} {
	return s.connected
}

// Push queues an event for the open stream.
func (s *Server) Push(ev sse.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// PushMessage encodes v and queues it as a message event.
func (s *Server) PushMessage(t testing.TB, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	s.Push(sse.Event{Type: "message", Data: string(b)})
}

// NextPost waits for the next POSTed message.
func (s *Server) NextPost(t testing.TB, timeout time.Duration) Post {
	t.Helper()
	select {
	case p := <-s.posts:
		return p
	case <-time.After(timeout):
		t.Fatalf("no message posted within %s", timeout)
		return Post{}
	}
}

// Posts returns every message received so far.
func (s *Server) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Post(nil), s.received...)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if s.endpoint != "" {
		if err := sse.WriteEvent(w, sse.Event{Type: "endpoint", Data: s.endpoint}); err != nil {
			return
		}
	}
	f.Flush()
	s.connectOnce.Do(func() { close(s.connected) })

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev := <-s.events:
			if err := sse.WriteEvent(w, ev); err != nil {
				return
			}
			f.Flush()
		}
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := Post{
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		Message:     &msg,
	}
	s.mu.Lock()
	s.received = append(s.received, p)
	s.mu.Unlock()
	select {
	case s.posts <- p:
	default:
	}

	w.WriteHeader(s.postStatus)
	_, _ = w.Write([]byte("Accepted"))

	if msg.Type() == jsonrpc.MessageTypeRequest {
		if fn, ok := s.responders[msg.Method]; ok {
			s.respond(msg.AsRequest(), fn)
		}
	}
}

func (s *Server) respond(req *jsonrpc.Request, fn Responder) {
	result, rpcErr := fn(req)
	var res *jsonrpc.Response
	if rpcErr != nil {
		res = jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		var err error
		res, err = jsonrpc.NewResultResponse(req.ID, result)
		if err != nil {
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("encode result: %v", err), nil)
		}
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	s.Push(sse.Event{Type: "message", Data: string(b)})
}
