package ssetransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-sse-client-go/internal/logctx"
	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/ggoodman/mcp-sse-client-go/latch"
	"github.com/ggoodman/mcp-sse-client-go/sse"
	"github.com/google/uuid"
)

const (
	// DefaultSSEPath is appended to the base URL to open the event stream.
	DefaultSSEPath = "/sse"
	// EndpointEventType announces the URL that outbound messages are posted to.
	EndpointEventType = "endpoint"
	// MessageEventType carries one serialized JSON-RPC message.
	MessageEventType = "message"

	// DefaultConnectTimeout bounds TCP connection setup of the default HTTP client.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultEndpointTimeout bounds how long Send waits for endpoint discovery.
	DefaultEndpointTimeout = 10 * time.Second
)

var (
	// ErrEndpointUnavailable is returned by Send when no message endpoint
	// was discovered in time.
	ErrEndpointUnavailable = errors.New("message endpoint unavailable")
	// ErrEncodeMessage wraps codec failures while encoding an outbound message.
	ErrEncodeMessage = errors.New("failed to encode message")
	// ErrPostMessage wraps transport failures and non-2xx answers to an
	// outbound POST.
	ErrPostMessage = errors.New("failed to send message")
	// ErrDecodeMessage wraps codec failures while decoding an inbound message event.
	ErrDecodeMessage = errors.New("failed to decode message event")
	// ErrUnmarshal wraps conversion failures in Unmarshal.
	ErrUnmarshal = errors.New("error unmarshalling data")
	// ErrAlreadyConnected is returned by a second call to Connect.
	ErrAlreadyConnected = errors.New("transport already connected")
	// ErrClosed is returned by Connect once the transport is closing.
	ErrClosed = errors.New("transport closed")
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// MessageHandler receives decoded inbound messages. It runs on the stream
// goroutine and must not block; nothing waits for its work to complete.
type MessageHandler func(ctx context.Context, msg *jsonrpc.AnyMessage)

// ErrorHandler receives errors that occur on the stream goroutine: stream
// failures and message events that cannot be decoded.
type ErrorHandler func(ctx context.Context, err error)

// Transport is the client half of the MCP HTTP+SSE transport. Inbound
// messages arrive on a server-sent event stream; outbound messages are
// POSTed to the endpoint the server announces on that stream.
//
// A Transport serves a single session: Connect may be called once.
type Transport struct {
	baseURL         string
	ssePath         string
	httpClient      *http.Client
	subscriber      sse.Subscriber
	codec           Codec
	log             *slog.Logger
	onError         ErrorHandler
	journal         journal.Journal
	endpointTimeout time.Duration
	sessionID       string

	endpoint  atomic.Pointer[string]
	gate      *latch.Gate
	closing   atomic.Bool
	connected atomic.Bool
	pending   atomic.Pointer[latch.Future]

	mu           sync.Mutex
	cancelStream context.CancelFunc
}

// Option configures a Transport.
type Option func(*config)

type config struct {
	httpClient      *http.Client
	connectTimeout  time.Duration
	subscriber      sse.Subscriber
	codec           Codec
	logger          *slog.Logger
	onError         ErrorHandler
	journal         journal.Journal
	ssePath         string
	endpointTimeout time.Duration
}

// WithHTTPClient sets the client used for both the stream and outbound
// POSTs. When set, WithConnectTimeout has no effect.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithConnectTimeout sets the dial timeout of the default HTTP client.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) { c.connectTimeout = d }
}

// WithSubscriber replaces the event stream implementation. The default is
// an sse.Client sharing the transport's HTTP client.
func WithSubscriber(s sse.Subscriber) Option {
	return func(c *config) { c.subscriber = s }
}

// WithCodec replaces the default JSON codec.
func WithCodec(codec Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithErrorHandler registers a callback for errors raised on the stream
// goroutine. Errors are always logged whether or not a handler is set.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *config) { c.onError = fn }
}

// WithJournal records inbound and outbound messages under the transport's
// session ID.
func WithJournal(j journal.Journal) Option {
	return func(c *config) { c.journal = j }
}

// WithSSEPath overrides the path appended to the base URL for the event stream.
func WithSSEPath(p string) Option {
	return func(c *config) { c.ssePath = p }
}

// WithEndpointTimeout overrides how long Send waits for endpoint discovery.
// A non-positive d keeps DefaultEndpointTimeout.
func WithEndpointTimeout(d time.Duration) Option {
	return func(c *config) { c.endpointTimeout = d }
}

// New constructs a Transport for the server at baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("base URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	cfg := &config{
		connectTimeout:  DefaultConnectTimeout,
		ssePath:         DefaultSSEPath,
		endpointTimeout: DefaultEndpointTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.endpointTimeout <= 0 {
		cfg.endpointTimeout = DefaultEndpointTimeout
	}
	if cfg.connectTimeout <= 0 {
		cfg.connectTimeout = DefaultConnectTimeout
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = newHTTPClient(cfg.connectTimeout)
	}
	codec := cfg.codec
	if codec == nil {
		codec = JSONCodec{}
	}
	log := logctx.Wrap(cfg.logger)

	subscriber := cfg.subscriber
	if subscriber == nil {
		subscriber = sse.NewClient(hc, sse.WithLogger(log))
	}

	return &Transport{
		baseURL:         strings.TrimRight(baseURL, "/"),
		ssePath:         cfg.ssePath,
		httpClient:      hc,
		subscriber:      subscriber,
		codec:           codec,
		log:             log,
		onError:         cfg.onError,
		journal:         cfg.journal,
		endpointTimeout: cfg.endpointTimeout,
		sessionID:       uuid.NewString(),
		gate:            latch.NewGate(),
	}, nil
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return &http.Client{Transport: tr}
}

// SessionID is a random identifier for this transport, used to correlate
// log lines and as the journal namespace.
func (t *Transport) SessionID() string {
	return t.sessionID
}

// BaseURL returns the server base URL without a trailing slash.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Endpoint returns the discovered message endpoint, if any.
func (t *Transport) Endpoint() (string, bool) {
	p := t.endpoint.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Closing reports whether CloseGracefully or Close has been called.
func (t *Transport) Closing() bool {
	return t.closing.Load()
}

// CloseGracefully marks the transport as closing and cancels a pending
// connect. Further events and sends become no-ops. It does not wait for
// in-flight sends and leaves the stream connection open; use Close to
// release it as well. Calling it more than once is harmless.
func (t *Transport) CloseGracefully(ctx context.Context) error {
	if t.closing.CompareAndSwap(false, true) {
		t.log.InfoContext(t.logContext(ctx), "transport.closing")
	}
	if f := t.pending.Load(); f != nil && f.Cancel() {
		t.log.InfoContext(t.logContext(ctx), "connect.cancel")
	}
	return nil
}

// Close closes gracefully and then tears down the event stream.
func (t *Transport) Close() error {
	_ = t.CloseGracefully(context.Background())
	t.mu.Lock()
	cancel := t.cancelStream
	t.cancelStream = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *Transport) logContext(ctx context.Context) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: t.sessionID, BaseURL: t.baseURL})
}

func (t *Transport) reportError(ctx context.Context, err error) {
	if t.onError != nil {
		t.onError(ctx, err)
	}
}
