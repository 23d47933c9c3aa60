// Package dispatch feeds utterances from the bus through the engine and
// publishes what the grammars made of them.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-grammar/internal/bus"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/dictation"
	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/history"
	"github.com/loqalabs/loqa-grammar/internal/protocol"
)

// Recorder stores dispatch outcomes. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

type Service struct {
	cfg       config.DispatchConfig
	bus       *bus.Client
	engine    *engine.Engine
	history   Recorder
	formatter *dictation.Formatter
	logger    *slog.Logger
	metrics   *metrics
	seen      *lru.Cache[string, struct{}]
	subs      []*nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records every dispatched utterance.
func WithHistory(r Recorder) Option {
	return func(s *Service) { s.history = r }
}

// WithDictation sets how dictation extras are rendered in results.
func WithDictation(opts dictation.Options) Option {
	return func(s *Service) { s.formatter = dictation.NewFormatter(opts, s.logger) }
}

func NewService(parent context.Context, cfg config.DispatchConfig, busClient *bus.Client, eng *engine.Engine, logger *slog.Logger, opts ...Option) (*Service, error) {
	size := cfg.DedupeSize
	if size <= 0 {
		size = 512
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: eng,
		logger: logger.With(slog.String("component", "dispatch")),
		seen:   seen,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.formatter == nil {
		s.formatter = dictation.NewFormatter(dictation.Options{}, s.logger)
	}
	m, err := newMetrics(eng)
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	s.metrics = m
	return s, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
		enabled bool
	}{
		{protocol.SubjectUtterance, s.handleUtterance, true},
		{protocol.SubjectTranscriptFinal, s.handleTranscript, s.cfg.Transcripts},
		{protocol.SubjectListUpdate, s.handleListUpdate, true},
	}
	for _, h := range handlers {
		if !h.enabled {
			continue
		}
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
}

func (s *Service) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Enabled || len(s.subs) > 0
}

func (s *Service) handleUtterance(msg *nats.Msg) {
	var utt protocol.Utterance
	if err := json.Unmarshal(msg.Data, &utt); err != nil {
		s.logger.Warn("dispatch failed to decode utterance", slogError(err))
		return
	}
	s.Process(s.ctx, utt)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("dispatch failed to decode transcript", slogError(err))
		return
	}
	if transcript.Partial {
		return
	}
	words := strings.Fields(transcript.Text)
	if len(words) == 0 {
		return
	}
	s.Process(s.ctx, protocol.Utterance{
		SessionID: transcript.SessionID,
		Words:     words,
		Timestamp: transcript.Timestamp,
	})
}

func (s *Service) handleListUpdate(msg *nats.Msg) {
	var update protocol.ListUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.Warn("dispatch failed to decode list update", slogError(err))
		return
	}
	if err := s.ApplyListUpdate(update); err != nil {
		s.logger.Warn("list update rejected",
			slog.String("grammar", update.Grammar),
			slog.String("list", update.List),
			slogError(err))
	}
}

// ApplyListUpdate replaces the contents of a registered grammar's list. The
// grammar is recompiled before the next utterance.
func (s *Service) ApplyListUpdate(update protocol.ListUpdate) error {
	err := s.engine.Update(update.Grammar, func(g *grammar.Grammar) error {
		if l := g.List(update.List); l != nil {
			l.Set(update.Items...)
			return nil
		}
		if d := g.DictList(update.List); d != nil {
			entries := make(map[string]any, len(update.Entries))
			for k, v := range update.Entries {
				entries[k] = v
			}
			d.Set(entries)
			return nil
		}
		return fmt.Errorf("grammar has no list %q", update.List)
	})
	if err == nil {
		s.metrics.listUpdated(s.ctx, update.Grammar)
	}
	return err
}

// Process runs one utterance through the engine, publishes the outcome and
// records it. Utterances whose ID was seen recently are dropped.
func (s *Service) Process(ctx context.Context, utt protocol.Utterance) engine.Result {
	if utt.ID == "" {
		utt.ID = uuid.NewString()
	} else if ok, _ := s.seen.ContainsOrAdd(utt.ID, struct{}{}); ok {
		s.logger.Debug("duplicate utterance dropped", slog.String("utterance_id", utt.ID))
		return engine.Result{Words: utt.Words}
	}

	start := time.Now()
	var res engine.Result
	if utt.Failure {
		res = s.engine.Failure(ctx, toWindow(utt.Window))
	} else {
		res = s.engine.ProcessUtterance(ctx, utt.Words, toWindow(utt.Window))
	}
	s.metrics.observe(ctx, res, time.Since(start))

	now := time.Now().UTC()
	if res.Failure {
		reason := protocol.ReasonNoMatch
		if utt.Failure {
			reason = protocol.ReasonEngine
		}
		s.logger.Info("utterance not recognized",
			slog.String("utterance_id", utt.ID),
			slog.String("words", strings.Join(utt.Words, " ")),
			slog.String("reason", reason))
		s.publish(protocol.SubjectFailure, protocol.RecognitionFailure{
			UtteranceID: utt.ID,
			SessionID:   utt.SessionID,
			Words:       slices.Clone(utt.Words),
			Reason:      reason,
			Timestamp:   now,
		})
		s.record(ctx, history.Entry{
			UtteranceID: utt.ID,
			SessionID:   utt.SessionID,
			Words:       utt.Words,
			Failure:     reason,
			CreatedAt:   now,
		})
		return res
	}

	for i, rec := range res.Recognitions {
		handled := res.Handled && i == len(res.Recognitions)-1
		result := s.resultFor(utt, rec, handled, now)
		s.logger.Info("utterance recognized",
			slog.String("utterance_id", utt.ID),
			slog.String("grammar", rec.Grammar),
			slog.String("rule", rec.Rule),
			slog.String("words", strings.Join(rec.Words, " ")),
			slog.Bool("handled", handled))
		s.publish(protocol.SubjectResult, result)
		s.record(ctx, history.Entry{
			UtteranceID: utt.ID,
			SessionID:   utt.SessionID,
			Grammar:     rec.Grammar,
			Rule:        rec.Rule,
			Words:       rec.Words,
			Extras:      result.Extras,
			Dictation:   result.Dictation,
			Handled:     handled,
			CreatedAt:   now,
		})
	}
	return res
}

func (s *Service) resultFor(utt protocol.Utterance, rec *grammar.Recognition, handled bool, now time.Time) protocol.RecognitionResult {
	out := protocol.RecognitionResult{
		UtteranceID: utt.ID,
		SessionID:   utt.SessionID,
		Grammar:     rec.Grammar,
		Rule:        rec.Rule,
		Words:       slices.Clone(rec.Words),
		Handled:     handled,
		Timestamp:   now,
	}
	if rec.Value != nil {
		out.Value = s.render(rec.Value)
	}
	var dictated []string
	for _, name := range slices.Sorted(maps.Keys(rec.Extras)) {
		v := rec.Extras[name]
		if v == nil {
			continue
		}
		if out.Extras == nil {
			out.Extras = make(map[string]string, len(rec.Extras))
		}
		text := s.render(v)
		out.Extras[name] = text
		if _, ok := v.(dictation.Text); ok {
			dictated = append(dictated, text)
		}
	}
	out.Dictation = strings.Join(dictated, " ")
	return out
}

func (s *Service) render(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case dictation.Text:
		return s.formatter.Format(v.Tokens)
	case []string:
		return strings.Join(v, " ")
	}
	return fmt.Sprint(v)
}

func (s *Service) publish(subject string, v any) {
	if !s.cfg.PublishResults || s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.logger.Warn("dispatch failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) record(ctx context.Context, e history.Entry) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, e); err != nil {
		s.logger.Warn("dispatch failed to record history", slog.String("utterance_id", e.UtteranceID), slogError(err))
	}
}

func toWindow(w *protocol.Window) *grammar.Window {
	if w == nil {
		return nil
	}
	return &grammar.Window{Executable: w.Executable, Title: w.Title, Handle: w.Handle}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
