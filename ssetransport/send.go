package ssetransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
)

// Send encodes msg and POSTs it to the endpoint announced by the server.
//
// If the endpoint is not known yet, Send waits for it up to the endpoint
// timeout and fails with ErrEndpointUnavailable when it does not arrive.
// Once the transport is closing, Send does nothing and returns nil; encode
// and POST failures that happen while closing are dropped as well.
// The response body is discarded.
func (t *Transport) Send(ctx context.Context, msg any) error {
	if t.closing.Load() {
		return nil
	}
	ctx = t.logContext(ctx)

	if !t.gate.Wait(ctx, t.endpointTimeout) {
		t.log.WarnContext(ctx, "send.endpoint.timeout", slog.Duration("timeout", t.endpointTimeout))
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrEndpointUnavailable, err)
		}
		return fmt.Errorf("%w: not announced within %s", ErrEndpointUnavailable, t.endpointTimeout)
	}
	endpoint, ok := t.Endpoint()
	if !ok {
		return fmt.Errorf("%w: no endpoint recorded", ErrEndpointUnavailable)
	}

	body, err := t.codec.Marshal(msg)
	if err != nil {
		return t.sendFailure(ctx, "send.encode.fail", fmt.Errorf("%w: %w", ErrEncodeMessage, err))
	}
	t.record(ctx, journal.Outbound, jsonrpc.Message(body))

	if err := t.post(ctx, t.resolveEndpoint(endpoint), body); err != nil {
		return t.sendFailure(ctx, "send.post.fail", fmt.Errorf("%w: %w", ErrPostMessage, err))
	}
	return nil
}

func (t *Transport) post(ctx context.Context, target string, body []byte) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", jsonMediaType.String())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	t.log.DebugContext(ctx, "send.post.ok", slog.Int("status", resp.StatusCode), slog.Duration("dur", time.Since(start)))
	return nil
}

func (t *Transport) sendFailure(ctx context.Context, event string, err error) error {
	if t.closing.Load() {
		t.log.DebugContext(ctx, event, slog.String("err", err.Error()), slog.Bool("closing", true))
		return nil
	}
	t.log.ErrorContext(ctx, event, slog.String("err", err.Error()))
	return err
}
