// Package engine provides an in-process recognition engine that matches
// text utterances against loaded grammars. It stands in for a speech engine
// when words arrive already transcribed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// ErrMimicFailure is returned by Mimic when no grammar handled the words.
var ErrMimicFailure = errors.New("mimic: no active rule matched")

// Result describes how one utterance was dispatched.
type Result struct {
	Words  []string
	Window grammar.Window
	// Grammar names the first grammar whose rule matched.
	Grammar string
	// Recognitions holds every match in dispatch order. Only the last one
	// can have handled the words; earlier ones passed them through.
	Recognitions []*grammar.Recognition
	Handled      bool
	Failure      bool
}

// Recognition returns the first match, or nil.
func (r Result) Recognition() *grammar.Recognition {
	if len(r.Recognitions) == 0 {
		return nil
	}
	return r.Recognitions[0]
}

// Observer is notified about every utterance, whether or not a grammar
// handled it.
type Observer interface {
	OnBegin(win grammar.Window)
	OnRecognition(res Result)
	OnFailure(res Result)
}

// Engine implements grammar.Engine. Utterances are processed one at a time.
type Engine struct {
	log       *slog.Logger
	windows   WindowSource
	maxWords  int
	observers []Observer

	// utterance serializes ProcessUtterance, Failure and Mimic.
	utterance sync.Mutex

	mu        sync.Mutex
	grammars  []*grammar.Grammar
	exclusive map[*grammar.Grammar]bool
	loaded    map[grammar.Handle]*loadedGrammar
	nextID    grammar.Handle
}

type loadedGrammar struct {
	name     string
	compiled *grammar.CompiledGrammar
	active   map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithWindowSource sets where the foreground window comes from.
func WithWindowSource(src WindowSource) Option {
	return func(e *Engine) { e.windows = src }
}

// WithMaxWords makes the engine reject grammars whose vocabulary exceeds n
// words. Zero means no limit.
func WithMaxWords(n int) Option {
	return func(e *Engine) { e.maxWords = n }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		windows:   StaticWindow{},
		exclusive: make(map[*grammar.Grammar]bool),
		loaded:    make(map[grammar.Handle]*loadedGrammar),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.log = e.log.With(slog.String("component", "engine"))
	return e
}

// LoadGrammar implements grammar.Engine.
func (e *Engine) LoadGrammar(name string, compiled *grammar.CompiledGrammar) (grammar.Handle, error) {
	if compiled == nil {
		return 0, errors.New("compiled grammar is nil")
	}
	if e.maxWords > 0 && len(compiled.Words) > e.maxWords {
		return 0, fmt.Errorf("grammar has %d words, limit is %d", len(compiled.Words), e.maxWords)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.loaded[e.nextID] = &loadedGrammar{name: name, compiled: compiled, active: make(map[string]bool)}
	e.log.Debug("grammar registered", slog.String("grammar", name), slog.Uint64("handle", uint64(e.nextID)))
	return e.nextID, nil
}

// UnloadGrammar implements grammar.Engine.
func (e *Engine) UnloadGrammar(h grammar.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.loaded[h]; !ok {
		return fmt.Errorf("unknown grammar handle %d", h)
	}
	delete(e.loaded, h)
	return nil
}

// UpdateRuleActivation implements grammar.Engine.
func (e *Engine) UpdateRuleActivation(h grammar.Handle, rule string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	lg, ok := e.loaded[h]
	if !ok {
		return fmt.Errorf("unknown grammar handle %d", h)
	}
	def, ok := lg.compiled.Rule(rule)
	if !ok {
		return fmt.Errorf("grammar %q has no rule %q", lg.name, rule)
	}
	if active && !def.Exported {
		return fmt.Errorf("rule %q is not exported", rule)
	}
	if active {
		lg.active[rule] = true
	} else {
		delete(lg.active, rule)
	}
	return nil
}

// Register attaches g to the engine and loads it. Grammars are offered
// recognitions in registration order.
func (e *Engine) Register(g *grammar.Grammar) error {
	e.utterance.Lock()
	defer e.utterance.Unlock()
	if err := g.SetEngine(e); err != nil {
		return err
	}
	e.mu.Lock()
	if slices.Contains(e.grammars, g) {
		e.mu.Unlock()
		return fmt.Errorf("grammar %q already registered", g.Name())
	}
	e.grammars = append(e.grammars, g)
	e.mu.Unlock()

	if err := g.Load(); err != nil {
		e.remove(g)
		return err
	}
	return nil
}

// Unregister unloads g and detaches it from the engine.
func (e *Engine) Unregister(g *grammar.Grammar) error {
	e.utterance.Lock()
	defer e.utterance.Unlock()
	if !e.remove(g) {
		return fmt.Errorf("grammar %q not registered", g.Name())
	}
	return g.Unload()
}

func (e *Engine) remove(g *grammar.Grammar) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.grammars, g)
	if i < 0 {
		return false
	}
	e.grammars = slices.Delete(e.grammars, i, i+1)
	delete(e.exclusive, g)
	return true
}

// Grammars returns the registered grammars in dispatch order.
func (e *Engine) Grammars() []*grammar.Grammar {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.grammars)
}

// Grammar returns the registered grammar named name, or nil.
func (e *Engine) Grammar(name string) *grammar.Grammar {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.grammars {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

// Update runs fn on the registered grammar named name while no utterance
// is being processed.
func (e *Engine) Update(name string, fn func(g *grammar.Grammar) error) error {
	e.utterance.Lock()
	defer e.utterance.Unlock()
	g := e.Grammar(name)
	if g == nil {
		return fmt.Errorf("grammar %q not registered", name)
	}
	return fn(g)
}

// SetExclusive restricts recognition to exclusive grammars while at least
// one grammar is exclusive.
func (e *Engine) SetExclusive(g *grammar.Grammar, exclusive bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.grammars, g) {
		return fmt.Errorf("grammar %q not registered", g.Name())
	}
	if exclusive {
		e.exclusive[g] = true
	} else {
		delete(e.exclusive, g)
	}
	return nil
}

// ActiveRules reports the rules the engine currently listens for, keyed by
// grammar name.
func (e *Engine) ActiveRules() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]string, len(e.loaded))
	for _, lg := range e.loaded {
		for rule := range lg.active {
			out[lg.name] = append(out[lg.name], rule)
		}
		slices.Sort(out[lg.name])
	}
	return out
}

// eligible returns the grammars an utterance is offered to.
func (e *Engine) eligible() []*grammar.Grammar {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.exclusive) == 0 {
		return slices.Clone(e.grammars)
	}
	var out []*grammar.Grammar
	for _, g := range e.grammars {
		if e.exclusive[g] {
			out = append(out, g)
		}
	}
	return out
}

// begin reloads stale grammars and runs ProcessBegin on each eligible one.
func (e *Engine) begin(ctx context.Context, win *grammar.Window) ([]*grammar.Grammar, grammar.Window) {
	var current grammar.Window
	if win != nil {
		current = *win
	} else if e.windows != nil {
		w, err := e.windows.ActiveWindow(ctx)
		if err != nil {
			e.log.Warn("active window lookup failed", slog.String("error", err.Error()))
		} else {
			current = w
		}
	}

	grammars := e.eligible()
	for _, g := range grammars {
		if g.Loaded() && g.Stale() {
			if err := g.Reload(); err != nil {
				e.log.Error("reloading stale grammar failed",
					slog.String("grammar", g.Name()), slog.String("error", err.Error()))
			}
		}
	}
	for _, o := range e.observers {
		o.OnBegin(current)
	}
	for _, g := range grammars {
		g.ProcessBegin(current)
	}
	return grammars, current
}

// ProcessUtterance dispatches words to the eligible grammars in order until
// one handles them. A rule that passes the words through does not stop
// dispatch but still keeps the utterance from counting as a failure. When win is nil the window source is consulted. Rule
// callbacks run while the engine is busy and must not call back into it.
func (e *Engine) ProcessUtterance(ctx context.Context, words []string, win *grammar.Window) Result {
	e.utterance.Lock()
	defer e.utterance.Unlock()

	grammars, current := e.begin(ctx, win)
	res := Result{Words: slices.Clone(words), Window: current}
	if len(words) == 0 {
		return e.fail(grammars, res)
	}

	matched := make(map[*grammar.Grammar]bool)
	for _, g := range grammars {
		rec, handled := g.Recognize(words)
		if rec == nil {
			continue
		}
		matched[g] = true
		res.Recognitions = append(res.Recognitions, rec)
		if handled {
			res.Handled = true
			break
		}
	}
	if len(res.Recognitions) == 0 {
		e.log.Debug("utterance not recognized", slog.String("words", strings.Join(words, " ")))
		return e.fail(grammars, res)
	}

	res.Grammar = res.Recognitions[0].Grammar
	for _, g := range grammars {
		if !matched[g] {
			g.ProcessRecognitionOther(words)
		}
	}
	for _, o := range e.observers {
		o.OnRecognition(res)
	}
	return res
}

// Failure reports an utterance the recogniser could not match at all.
func (e *Engine) Failure(ctx context.Context, win *grammar.Window) Result {
	e.utterance.Lock()
	defer e.utterance.Unlock()
	grammars, current := e.begin(ctx, win)
	return e.fail(grammars, Result{Window: current})
}

func (e *Engine) fail(grammars []*grammar.Grammar, res Result) Result {
	res.Failure = true
	for _, g := range grammars {
		g.ProcessRecognitionFailure()
	}
	for _, o := range e.observers {
		o.OnFailure(res)
	}
	return res
}

// Mimic processes words as if they had been spoken and reports
// ErrMimicFailure when no rule matched them.
func (e *Engine) Mimic(ctx context.Context, words ...string) (Result, error) {
	res := e.ProcessUtterance(ctx, words, nil)
	if res.Failure {
		return res, fmt.Errorf("%w: %q", ErrMimicFailure, strings.Join(words, " "))
	}
	return res, nil
}
