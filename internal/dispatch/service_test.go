package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-grammar/internal/bus"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/history"
	"github.com/loqalabs/loqa-grammar/internal/natsserver"
	"github.com/loqalabs/loqa-grammar/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryRecorder) Record(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRecorder) snapshot() []history.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Entry(nil), m.entries...)
}

func newEditorEngine(t *testing.T) (*engine.Engine, *grammar.List) {
	t.Helper()
	files := grammar.NewList("files", "readme")
	g := grammar.NewGrammar("editor")
	require.NoError(t, g.AddRules(
		grammar.MustRule("open", grammar.NewSequence([]grammar.Element{
			grammar.NewLiteral("open"),
			grammar.NewListRef(files, grammar.WithName("file")),
		}), grammar.OnRecognize(func(rec *grammar.Recognition) error {
			rec.Value = "open:" + rec.Extras.String("file")
			return nil
		})),
		grammar.MustRule("say", grammar.NewSequence([]grammar.Element{
			grammar.NewLiteral("say"),
			grammar.NewDictation(grammar.WithName("text")),
		})),
	))
	e := engine.New()
	require.NoError(t, e.Register(g))
	return e, files
}

func TestProcessRecordsRecognitionAndFailure(t *testing.T) {
	t.Parallel()

	eng, _ := newEditorEngine(t)
	rec := &memoryRecorder{}
	svc, err := NewService(context.Background(), config.DispatchConfig{Enabled: true, DedupeSize: 8}, nil, eng, newLogger(), WithHistory(rec))
	require.NoError(t, err)

	res := svc.Process(context.Background(), protocol.Utterance{ID: "u1", Words: []string{"say", "hello", "comma", "world"}})
	require.True(t, res.Handled)
	require.Equal(t, "say", res.Recognition().Rule)

	res = svc.Process(context.Background(), protocol.Utterance{ID: "u2", Words: []string{"close", "everything"}})
	require.True(t, res.Failure)

	entries := rec.snapshot()
	require.Len(t, entries, 2)
	require.Equal(t, "say", entries[0].Rule)
	require.Equal(t, "hello, world", entries[0].Dictation)
	require.Equal(t, "hello, world", entries[0].Extras["text"])
	require.True(t, entries[0].Handled)
	require.Equal(t, protocol.ReasonNoMatch, entries[1].Failure)
}

func TestProcessDropsDuplicateUtterances(t *testing.T) {
	t.Parallel()

	eng, _ := newEditorEngine(t)
	rec := &memoryRecorder{}
	svc, err := NewService(context.Background(), config.DispatchConfig{Enabled: true, DedupeSize: 2}, nil, eng, newLogger(), WithHistory(rec))
	require.NoError(t, err)

	utt := protocol.Utterance{ID: "same", Words: []string{"open", "readme"}}
	require.True(t, svc.Process(context.Background(), utt).Handled)
	require.False(t, svc.Process(context.Background(), utt).Handled)
	require.Len(t, rec.snapshot(), 1)

	// Utterances without an ID are never deduplicated.
	utt.ID = ""
	require.True(t, svc.Process(context.Background(), utt).Handled)
	require.True(t, svc.Process(context.Background(), utt).Handled)
	require.Len(t, rec.snapshot(), 3)
}

func TestApplyListUpdate(t *testing.T) {
	t.Parallel()

	eng, files := newEditorEngine(t)
	svc, err := NewService(context.Background(), config.DispatchConfig{Enabled: true}, nil, eng, newLogger())
	require.NoError(t, err)

	require.False(t, svc.Process(context.Background(), protocol.Utterance{Words: []string{"open", "readme"}}).Failure)

	require.NoError(t, svc.ApplyListUpdate(protocol.ListUpdate{Grammar: "editor", List: "files", Items: []string{"main go", "license"}}))
	require.Equal(t, []string{"main go", "license"}, files.Items())

	res := svc.Process(context.Background(), protocol.Utterance{Words: []string{"open", "main", "go"}})
	require.True(t, res.Handled)
	require.Equal(t, "open:main go", res.Recognition().Value)
	require.True(t, svc.Process(context.Background(), protocol.Utterance{Words: []string{"open", "readme"}}).Failure)

	require.Error(t, svc.ApplyListUpdate(protocol.ListUpdate{Grammar: "editor", List: "missing"}))
	require.Error(t, svc.ApplyListUpdate(protocol.ListUpdate{Grammar: "nope", List: "files"}))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := newLogger()
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{ns.ClientURL()},
		ConnectTimeout: 2000,
		ConnectRetries: 3,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestServiceOverBus(t *testing.T) {
	client := startBus(t)
	eng, _ := newEditorEngine(t)

	svc, err := NewService(context.Background(), config.DispatchConfig{
		Enabled:        true,
		PublishResults: true,
		Transcripts:    true,
	}, client, eng, newLogger())
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	require.True(t, svc.Healthy())

	results := make(chan protocol.RecognitionResult, 4)
	failures := make(chan protocol.RecognitionFailure, 4)
	resultSub, err := client.Conn().Subscribe(protocol.SubjectResult, func(msg *nats.Msg) {
		var r protocol.RecognitionResult
		if json.Unmarshal(msg.Data, &r) == nil {
			results <- r
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resultSub.Unsubscribe() })
	failureSub, err := client.Conn().Subscribe(protocol.SubjectFailure, func(msg *nats.Msg) {
		var f protocol.RecognitionFailure
		if json.Unmarshal(msg.Data, &f) == nil {
			failures <- f
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = failureSub.Unsubscribe() })
	require.NoError(t, client.Conn().Flush())

	require.NoError(t, client.PublishJSON(protocol.SubjectUtterance, protocol.Utterance{
		ID:    "bus-1",
		Words: []string{"open", "readme"},
	}))
	select {
	case r := <-results:
		require.Equal(t, "bus-1", r.UtteranceID)
		require.Equal(t, "editor", r.Grammar)
		require.Equal(t, "open", r.Rule)
		require.Equal(t, "open:readme", r.Value)
		require.Equal(t, "readme", r.Extras["file"])
		require.True(t, r.Handled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recognition result")
	}

	require.NoError(t, client.PublishJSON(protocol.SubjectListUpdate, protocol.ListUpdate{
		Grammar: "editor",
		List:    "files",
		Items:   []string{"notes"},
	}))
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID: "s1",
		Text:      "open readme",
	}))
	select {
	case f := <-failures:
		require.Equal(t, "s1", f.SessionID)
		require.Equal(t, protocol.ReasonNoMatch, f.Reason)
		require.Equal(t, []string{"open", "readme"}, f.Words)
	case r := <-results:
		// The list update raced the transcript; it must land eventually.
		require.Equal(t, "open", r.Rule)
		require.Eventually(t, func() bool {
			return svc.Process(context.Background(), protocol.Utterance{Words: []string{"open", "notes"}}).Handled
		}, 5*time.Second, 20*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recognition failure")
	}
}
