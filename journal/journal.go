// Package journal records the JSON-RPC traffic of a transport session so it
// can be inspected or replayed later. Each session writes to its own
// namespace; entries within a namespace are ordered by append time.
package journal

import (
	"context"

	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
)

// Direction tells whether a message was received from or sent to the server.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Journal stores message entries per namespace.
type Journal interface {
	// Append stores msg under namespace and returns the generated entry ID.
	// IDs increase monotonically within a namespace.
	Append(ctx context.Context, namespace string, dir Direction, msg jsonrpc.Message) (id string, err error)

	// Replay calls fn for every entry after afterID, in order. An empty
	// afterID replays from the beginning. Replay returns once the stored
	// entries are exhausted; an error from fn stops the replay and is
	// returned.
	Replay(ctx context.Context, namespace string, afterID string, fn func(ctx context.Context, e Entry) error) error

	// Cleanup removes every entry stored under namespace.
	Cleanup(ctx context.Context, namespace string) error
}

// Entry is one recorded message.
type Entry struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
}
