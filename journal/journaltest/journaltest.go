// Package journaltest is a conformance suite for journal.Journal
// implementations.
package journaltest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-client-go/journal"
	"github.com/ggoodman/mcp-sse-client-go/jsonrpc"
)

// JournalFactory creates a fresh journal for one test.
type JournalFactory func(t *testing.T) journal.Journal

// RunJournalTests runs the complete journal test suite against the provided factory.
func RunJournalTests(t *testing.T, factory JournalFactory) {
	t.Run("AppendAndReplayFromBeginning", func(t *testing.T) {
		testAppendAndReplayFromBeginning(t, factory)
	})
	t.Run("ReplayAfterID", func(t *testing.T) {
		testReplayAfterID(t, factory)
	})
	t.Run("ReplayAfterLastIDIsEmpty", func(t *testing.T) {
		testReplayAfterLastIDIsEmpty(t, factory)
	})
	t.Run("NamespaceIsolation", func(t *testing.T) {
		testNamespaceIsolation(t, factory)
	})
	t.Run("CallbackErrorStopsReplay", func(t *testing.T) {
		testCallbackErrorStopsReplay(t, factory)
	})
	t.Run("Cleanup", func(t *testing.T) {
		testCleanup(t, factory)
	})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// uniqueNamespace keeps runs against shared backends from colliding.
func uniqueNamespace(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%s-%d", t.Name(), name, time.Now().UnixNano())
}

func message(t *testing.T, method string) jsonrpc.Message {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), method, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return b
}

func appendAll(t *testing.T, ctx context.Context, j journal.Journal, ns string, methods ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(methods))
	for i, m := range methods {
		dir := journal.Outbound
		if i%2 == 1 {
			dir = journal.Inbound
		}
		id, err := j.Append(ctx, ns, dir, message(t, m))
		if err != nil {
			t.Fatalf("append %s: %v", m, err)
		}
		if id == "" {
			t.Fatalf("expected non-empty entry ID")
		}
		ids = append(ids, id)
	}
	return ids
}

func replayAll(t *testing.T, ctx context.Context, j journal.Journal, ns, afterID string) []journal.Entry {
	t.Helper()
	var out []journal.Entry
	err := j.Replay(ctx, ns, afterID, func(ctx context.Context, e journal.Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	return out
}

func methodOf(t *testing.T, e journal.Entry) string {
	t.Helper()
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		t.Fatalf("decode entry %s: %v", e.ID, err)
	}
	return msg.Method
}

func testAppendAndReplayFromBeginning(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns := uniqueNamespace(t, "ns")
	defer j.Cleanup(ctx, ns)

	ids := appendAll(t, ctx, j, ns, "a", "b", "c")

	entries := replayAll(t, ctx, j, ns, "")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Fatalf("entry %d: expected ID %s, got %s", i, ids[i], e.ID)
		}
		if got, want := methodOf(t, e), []string{"a", "b", "c"}[i]; got != want {
			t.Fatalf("entry %d: expected method %s, got %s", i, want, got)
		}
	}
	if entries[0].Direction != journal.Outbound || entries[1].Direction != journal.Inbound {
		t.Fatalf("directions not preserved: %+v", entries)
	}
}

func testReplayAfterID(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns := uniqueNamespace(t, "ns")
	defer j.Cleanup(ctx, ns)

	ids := appendAll(t, ctx, j, ns, "a", "b", "c", "d")

	entries := replayAll(t, ctx, j, ns, ids[1])
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after %s, got %d", ids[1], len(entries))
	}
	if methodOf(t, entries[0]) != "c" || methodOf(t, entries[1]) != "d" {
		t.Fatalf("unexpected replay order: %+v", entries)
	}
}

func testReplayAfterLastIDIsEmpty(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns := uniqueNamespace(t, "ns")
	defer j.Cleanup(ctx, ns)

	ids := appendAll(t, ctx, j, ns, "a", "b")
	if entries := replayAll(t, ctx, j, ns, ids[len(ids)-1]); len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func testNamespaceIsolation(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns1 := uniqueNamespace(t, "one")
	ns2 := uniqueNamespace(t, "two")
	defer j.Cleanup(ctx, ns1)
	defer j.Cleanup(ctx, ns2)

	appendAll(t, ctx, j, ns1, "a", "b")
	appendAll(t, ctx, j, ns2, "z")

	if got := len(replayAll(t, ctx, j, ns1, "")); got != 2 {
		t.Fatalf("ns1: expected 2 entries, got %d", got)
	}
	entries := replayAll(t, ctx, j, ns2, "")
	if len(entries) != 1 || methodOf(t, entries[0]) != "z" {
		t.Fatalf("ns2: unexpected entries %+v", entries)
	}
}

func testCallbackErrorStopsReplay(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns := uniqueNamespace(t, "ns")
	defer j.Cleanup(ctx, ns)

	appendAll(t, ctx, j, ns, "a", "b", "c")

	stop := errors.New("stop")
	calls := 0
	err := j.Replay(ctx, ns, "", func(ctx context.Context, e journal.Entry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected replay to stop after first entry, got %d calls", calls)
	}
}

func testCleanup(t *testing.T, factory JournalFactory) {
	j := factory(t)
	ctx := testContext(t)
	ns := uniqueNamespace(t, "ns")

	appendAll(t, ctx, j, ns, "a")
	if err := j.Cleanup(ctx, ns); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if entries := replayAll(t, ctx, j, ns, ""); len(entries) != 0 {
		t.Fatalf("expected no entries after cleanup, got %d", len(entries))
	}
	if err := j.Cleanup(ctx, ns); err != nil {
		t.Fatalf("cleanup of empty namespace: %v", err)
	}
}
