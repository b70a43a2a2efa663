package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
)

var (
	// ErrUnexpectedStatus is reported when the stream request is answered
	// with anything but 200 OK.
	ErrUnexpectedStatus = errors.New("unexpected SSE response status")
	// ErrUnexpectedContentType is reported when the response is not an
	// event stream.
	ErrUnexpectedContentType = errors.New("unexpected SSE response content type")
	// ErrStreamEnded is reported when the server closes the stream.
	ErrStreamEnded = errors.New("SSE stream ended")
)

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// Handler receives the events of one subscription. Both methods are called
// from the subscription goroutine, never concurrently.
type Handler interface {
	OnEvent(ctx context.Context, ev Event)
	OnError(ctx context.Context, err error)
}

// HandlerFuncs adapts a pair of functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Event func(ctx context.Context, ev Event)
	Error func(ctx context.Context, err error)
}

func (h HandlerFuncs) OnEvent(ctx context.Context, ev Event) {
	if h.Event != nil {
		h.Event(ctx, ev)
	}
}

func (h HandlerFuncs) OnError(ctx context.Context, err error) {
	if h.Error != nil {
		h.Error(ctx, err)
	}
}

// Subscriber opens an event stream and feeds it to a Handler. Subscribe
// must not block: the stream is consumed in the background until ctx is
// done or the stream fails, in which case OnError is called once.
type Subscriber interface {
	Subscribe(ctx context.Context, url string, h Handler)
}

// Client is the HTTP implementation of Subscriber.
type Client struct {
	hc      *http.Client
	log     *slog.Logger
	maxSize int
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxEventSize bounds the size of a single line and of one event's
// data. A stream that exceeds it fails with ErrEventTooLarge.
func WithMaxEventSize(n int) Option {
	return func(c *Client) { c.maxSize = n }
}

// NewClient builds a Client on top of hc. A nil hc uses http.DefaultClient.
func NewClient(hc *http.Client, opts ...Option) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{hc: hc, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Subscriber = (*Client)(nil)

// Subscribe implements Subscriber.
func (c *Client) Subscribe(ctx context.Context, url string, h Handler) {
	go c.run(ctx, url, h)
}

func (c *Client) run(ctx context.Context, url string, h Handler) {
	resp, err := c.open(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			c.log.DebugContext(ctx, "sse.stream.abort", slog.String("err", err.Error()))
			return
		}
		h.OnError(ctx, err)
		return
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "sse.stream.start", slog.String("url", url))

	r := NewReaderSize(resp.Body, c.maxSize)
	for {
		ev, err := r.Next()
		if err != nil {
			if ctx.Err() != nil {
				c.log.DebugContext(ctx, "sse.stream.done")
				return
			}
			if errors.Is(err, io.EOF) {
				h.OnError(ctx, ErrStreamEnded)
				return
			}
			h.OnError(ctx, fmt.Errorf("failed to read SSE stream: %w", err))
			return
		}
		h.OnEvent(ctx, ev)
	}
}

func (c *Client) open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build SSE request: %w", err)
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSE stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	ct := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if !ct.Matches(eventStreamMediaType) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}

	return resp, nil
}
