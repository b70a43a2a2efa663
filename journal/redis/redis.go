// Package redis provides a journal.Journal backed by Redis Streams. Entries
// of one namespace live in a single stream so the Redis-generated entry IDs
// give a total order.
package redis

import (
	"context"
	"fmt"

	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
	"github.com/redis/go-redis/v9"
)

const replayBatchSize = 100

// Journal is a Redis Streams implementation of journal.Journal.
type Journal struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Config contains configuration options for the Redis journal.
type Config struct {
	// Client is the Redis client to use. If nil, a client for localhost:6379
	// is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys. Defaults to "mcp:journal:".
	KeyPrefix string
}

// New creates a Redis-backed journal.
func New(config Config) *Journal {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "mcp:journal:"
	}

	return &Journal{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close closes the Redis connection.
func (j *Journal) Close() error {
	return j.client.Close()
}

// Append implements journal.Journal.Append
func (j *Journal) Append(ctx context.Context, namespace string, dir journal.Direction, msg jsonrpc.Message) (string, error) {
	streamKey := j.streamKey(namespace)

	id, err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			"dir":  string(dir),
			"data": []byte(msg),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", streamKey, err)
	}

	return id, nil
}

// Replay implements journal.Journal.Replay
func (j *Journal) Replay(ctx context.Context, namespace string, afterID string, fn func(ctx context.Context, e journal.Entry) error) error {
	streamKey := j.streamKey(namespace)

	// XRANGE bounds are inclusive; the cursor entry itself is skipped below.
	cursor := afterID
	start := afterID
	if start == "" {
		start = "-"
	}

	for {
		msgs, err := j.client.XRangeN(ctx, streamKey, start, "+", replayBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to read stream %s: %w", streamKey, err)
		}

		for _, m := range msgs {
			if m.ID == cursor {
				continue
			}
			cursor = m.ID

			data, ok := m.Values["data"].(string)
			if !ok {
				continue
			}
			dir, _ := m.Values["dir"].(string)

			if err := fn(ctx, journal.Entry{ID: m.ID, Direction: journal.Direction(dir), Data: []byte(data)}); err != nil {
				return err
			}
		}

		if len(msgs) < replayBatchSize {
			return nil
		}
		start = cursor
	}
}

// Cleanup implements journal.Journal.Cleanup
func (j *Journal) Cleanup(ctx context.Context, namespace string) error {
	streamKey := j.streamKey(namespace)

	err := j.client.Del(ctx, streamKey).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to cleanup namespace %s: %w", namespace, err)
	}

	return nil
}

func (j *Journal) streamKey(namespace string) string {
	return j.keyPrefix + "stream:" + namespace
}

var _ journal.Journal = (*Journal)(nil)
