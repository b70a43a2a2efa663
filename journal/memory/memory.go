// Package memory provides an in-process journal.Journal. State is local to
// the process, which suits tests and single-process tools.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
)

// Journal implements journal.Journal with per-namespace slices.
type Journal struct {
	mu         sync.RWMutex
	namespaces map[string][]journal.Entry
	counter    atomic.Int64
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{namespaces: make(map[string][]journal.Entry)}
}

// Append implements journal.Journal.Append
func (j *Journal) Append(ctx context.Context, namespace string, dir journal.Direction, msg jsonrpc.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := strconv.FormatInt(j.counter.Add(1), 10)
	entry := journal.Entry{
		ID:        id,
		Direction: dir,
		Data:      append([]byte(nil), msg...),
	}

	j.mu.Lock()
	j.namespaces[namespace] = append(j.namespaces[namespace], entry)
	j.mu.Unlock()

	return id, nil
}

// Replay implements journal.Journal.Replay
func (j *Journal) Replay(ctx context.Context, namespace string, afterID string, fn func(ctx context.Context, e journal.Entry) error) error {
	j.mu.RLock()
	entries := append([]journal.Entry(nil), j.namespaces[namespace]...)
	j.mu.RUnlock()

	start := 0
	if afterID != "" {
		after, err := strconv.ParseInt(afterID, 10, 64)
		if err != nil {
			// Unknown IDs replay nothing rather than everything.
			return nil
		}
		start = len(entries)
		for i, e := range entries {
			id, _ := strconv.ParseInt(e.ID, 10, 64)
			if id > after {
				start = i
				break
			}
		}
	}

	for _, e := range entries[start:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup implements journal.Journal.Cleanup
func (j *Journal) Cleanup(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	delete(j.namespaces, namespace)
	j.mu.Unlock()
	return nil
}

var _ journal.Journal = (*Journal)(nil)
