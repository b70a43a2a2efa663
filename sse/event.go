// Package sse implements the client side of a Server-Sent Events stream: a
// frame Reader, a Subscriber that opens a persistent GET and delivers typed
// events to a handler, and WriteEvent for producing frames.
package sse

import (
	"fmt"
	"io"
	"strings"
)

// DefaultEventType is the type of an event that carries no "event:" field.
const DefaultEventType = "message"

// Event is a single dispatched SSE event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry string
}

// WriteEvent writes ev as one SSE frame. Multi-line data is split across
// several data fields so the reader reassembles it unchanged.
func WriteEvent(w io.Writer, ev Event) error {
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return fmt.Errorf("failed to write SSE event type: %w", err)
		}
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return fmt.Errorf("failed to write SSE data: %w", err)
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	return nil
}
