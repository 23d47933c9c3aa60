package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	hs, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })
	if err := hs.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := hs.Record(ctx, Entry{UtteranceID: "u1", Words: []string{"hello"}}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	entries, err := hs.Recent(ctx, 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v (%v)", entries, err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	ctx := context.Background()
	err = hs.Record(ctx, Entry{
		UtteranceID: "u1",
		SessionID:   "s1",
		Grammar:     "editor",
		Rule:        "save",
		Words:       []string{"save", "file"},
		Extras:      map[string]string{"n": "3"},
		Handled:     true,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := hs.Record(ctx, Entry{UtteranceID: "u2", SessionID: "s2", Words: []string{"mumble"}, Failure: "no_match"}); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	entries, err := hs.Session(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("session entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID == "" {
		t.Fatalf("expected generated id")
	}
	if got.Rule != "save" || !got.Handled || len(got.Words) != 2 || got.Words[1] != "file" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Extras["n"] != "3" {
		t.Fatalf("unexpected extras: %v", got.Extras)
	}

	recent, err := hs.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].UtteranceID != "u2" || recent[0].Failure != "no_match" {
		t.Fatalf("expected newest failure first, got %+v", recent[0])
	}
}

func TestPruneByDaysAndMaxEntries(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxEntries: 1}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	ctx := context.Background()
	hs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := hs.Record(ctx, Entry{UtteranceID: "old", Words: []string{"old"}}); err != nil {
		t.Fatalf("record: %v", err)
	}

	hs.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"new-1", "new-2"} {
		if err := hs.Record(ctx, Entry{UtteranceID: id, Words: []string{id}}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := hs.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := hs.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", len(entries))
	}
	if entries[0].UtteranceID != "new-2" {
		t.Fatalf("expected newest entry kept, got %s", entries[0].UtteranceID)
	}
}
