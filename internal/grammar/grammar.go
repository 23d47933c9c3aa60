package grammar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// ErrNoEngine is returned when loading a grammar that has no engine.
var ErrNoEngine = errors.New("grammar has no engine")

var grammarIDs atomic.Uint64

// Grammar owns an ordered set of rules, loads them into an engine and
// dispatches recognitions to them. A grammar is driven from one goroutine at
// a time; only list mutations may arrive concurrently.
type Grammar struct {
	id      uint64
	name    string
	engine  Engine
	log     *slog.Logger
	rules   []*Rule
	lists   map[string]listSource
	enabled bool
	context Context

	state       State
	inContext   bool
	handle      Handle
	compiled    *CompiledGrammar
	fingerprint string
	stale       atomic.Bool

	onEnterContext func()
	onExitContext  func()
	filter         func(words []string) bool
	onOther        func(words []string)
	onFailure      func()
	onCallbackErr  func(*CallbackError)
}

// GrammarOption configures a grammar at construction.
type GrammarOption func(*Grammar)

func WithEngine(e Engine) GrammarOption {
	return func(g *Grammar) { g.engine = e }
}

func WithLogger(log *slog.Logger) GrammarOption {
	return func(g *Grammar) {
		if log != nil {
			g.log = log
		}
	}
}

// WithGrammarContext restricts every rule of the grammar to windows matching
// ctx.
func WithGrammarContext(ctx Context) GrammarOption {
	return func(g *Grammar) { g.context = ctx }
}

// OnEnterContext runs when the grammar's context starts matching.
func OnEnterContext(fn func()) GrammarOption {
	return func(g *Grammar) { g.onEnterContext = fn }
}

// OnExitContext runs when the grammar's context stops matching.
func OnExitContext(fn func()) GrammarOption {
	return func(g *Grammar) { g.onExitContext = fn }
}

// WithRecognitionFilter is consulted before decoding; returning false
// declines the recognition for this grammar.
func WithRecognitionFilter(fn func(words []string) bool) GrammarOption {
	return func(g *Grammar) { g.filter = fn }
}

// OnRecognitionOther runs when another grammar handled the recognition.
func OnRecognitionOther(fn func(words []string)) GrammarOption {
	return func(g *Grammar) { g.onOther = fn }
}

// OnRecognitionFailure runs when the engine reports a failed recognition.
func OnRecognitionFailure(fn func()) GrammarOption {
	return func(g *Grammar) { g.onFailure = fn }
}

// OnCallbackError observes rule callbacks that failed.
func OnCallbackError(fn func(*CallbackError)) GrammarOption {
	return func(g *Grammar) { g.onCallbackErr = fn }
}

func NewGrammar(name string, opts ...GrammarOption) *Grammar {
	g := &Grammar{
		id:      grammarIDs.Add(1),
		name:    name,
		enabled: true,
		state:   StateUnloaded,
		lists:   make(map[string]listSource),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.log = g.log.With(slog.String("grammar", name))
	return g
}

func (g *Grammar) ID() uint64       { return g.id }
func (g *Grammar) Name() string     { return g.name }
func (g *Grammar) State() State     { return g.state }
func (g *Grammar) Loaded() bool     { return g.state == StateLoaded }
func (g *Grammar) Enabled() bool    { return g.enabled }
func (g *Grammar) Context() Context { return g.context }
func (g *Grammar) Engine() Engine   { return g.engine }

// Enable lets the grammar take part in recognition from the next utterance.
func (g *Grammar) Enable() { g.enabled = true }

// Disable keeps the grammar loaded but excludes it from recognition from the
// next utterance on.
func (g *Grammar) Disable() { g.enabled = false }

func (g *Grammar) SetContext(ctx Context) { g.context = ctx }

// SetEngine changes the engine of an unloaded grammar.
func (g *Grammar) SetEngine(e Engine) error {
	if g.state != StateUnloaded {
		return fmt.Errorf("grammar %q: cannot change engine while %s", g.name, g.state)
	}
	g.engine = e
	return nil
}

// Rules returns the rules in insertion order.
func (g *Grammar) Rules() []*Rule { return append([]*Rule(nil), g.rules...) }

// Rule returns the rule named name, or nil.
func (g *Grammar) Rule(name string) *Rule {
	for _, r := range g.rules {
		if r.name == name {
			return r
		}
	}
	return nil
}

// ActiveRules returns the rules currently eligible for recognition.
func (g *Grammar) ActiveRules() []*Rule {
	var out []*Rule
	for _, r := range g.rules {
		if r.active {
			out = append(out, r)
		}
	}
	return out
}

// Compiled returns the compiled form currently live with the engine.
func (g *Grammar) Compiled() *CompiledGrammar { return g.compiled }

// Fingerprint identifies the compiled form currently live with the engine.
func (g *Grammar) Fingerprint() string { return g.fingerprint }

// Stale reports whether a referenced list changed since the last compile.
func (g *Grammar) Stale() bool { return g.stale.Load() }

// AddRule appends a rule. Rules added earlier win ties during dispatch.
func (g *Grammar) AddRule(r *Rule) error {
	if r == nil {
		return &DefinitionError{Grammar: g.name, Reason: "nil rule"}
	}
	if g.state != StateUnloaded {
		return &DefinitionError{Grammar: g.name, Rule: r.name, Reason: "cannot add rule while grammar is " + string(g.state)}
	}
	if g.Rule(r.name) != nil {
		return &DefinitionError{Grammar: g.name, Rule: r.name, Reason: "duplicate rule name"}
	}
	if r.grammarID != 0 && r.grammarID != g.id {
		return &DefinitionError{Grammar: g.name, Rule: r.name, Reason: "rule already belongs to another grammar"}
	}
	r.grammarID = g.id
	g.rules = append(g.rules, r)
	return nil
}

// AddRules adds rules in order, stopping at the first error.
func (g *Grammar) AddRules(rules ...*Rule) error {
	for _, r := range rules {
		if err := g.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRule detaches the named rule from an unloaded grammar.
func (g *Grammar) RemoveRule(name string) error {
	if g.state != StateUnloaded {
		return &DefinitionError{Grammar: g.name, Rule: name, Reason: "cannot remove rule while grammar is " + string(g.state)}
	}
	for i, r := range g.rules {
		if r.name == name {
			r.grammarID = 0
			r.active = false
			g.rules = append(g.rules[:i], g.rules[i+1:]...)
			return nil
		}
	}
	return &DefinitionError{Grammar: g.name, Rule: name, Reason: "no such rule"}
}

// AddList registers a list so its mutations mark the grammar stale. Lists
// referenced by rules are registered automatically when compiling.
func (g *Grammar) AddList(l *List) { g.addList(l) }

// AddDictList is AddList for a DictList.
func (g *Grammar) AddDictList(d *DictList) { g.addList(d) }

// List returns the plain list registered as name, or nil.
func (g *Grammar) List(name string) *List {
	l, _ := g.lists[name].(*List)
	return l
}

// DictList returns the keyed list registered as name, or nil.
func (g *Grammar) DictList(name string) *DictList {
	d, _ := g.lists[name].(*DictList)
	return d
}

func (g *Grammar) addList(src listSource) {
	if _, ok := g.lists[src.Name()]; ok {
		return
	}
	g.lists[src.Name()] = src
	src.addListener(g)
}

func (g *Grammar) listChanged(name string) {
	if g.stale.CompareAndSwap(false, true) {
		g.log.Debug("grammar marked stale", slog.String("list", name))
	}
}

// Compile lowers the grammar's rules without touching the engine.
func (g *Grammar) Compile() (*CompiledGrammar, error) {
	compiled, err := Compile(g.name, g.rules)
	if err != nil {
		var de *DefinitionError
		if errors.As(err, &de) && de.Grammar == "" {
			de.Grammar = g.name
		}
		return nil, err
	}
	for _, r := range g.rules {
		for _, dep := range append([]*Rule{r}, r.Dependencies()...) {
			_ = walk(dep.root, func(e Element) error {
				if ref, ok := e.(*ListRef); ok && ref.source() != nil {
					g.addList(ref.source())
				}
				return nil
			})
		}
	}
	return compiled, nil
}

// Load compiles the grammar and registers it with the engine. On failure
// the grammar stays unloaded and the error is a *DefinitionError or an
// *EngineRejection.
func (g *Grammar) Load() error {
	if g.state == StateLoaded {
		return nil
	}
	if g.engine == nil {
		return fmt.Errorf("load grammar %q: %w", g.name, ErrNoEngine)
	}
	next, err := Transition(g.state, EventLoad)
	if err != nil {
		return err
	}
	g.state = next

	g.stale.Store(false)
	compiled, fingerprint, err := g.compileWithFingerprint()
	if err != nil {
		g.state, _ = Transition(g.state, EventRejected)
		g.log.Error("grammar compilation failed", slogError(err))
		return err
	}
	handle, err := g.engine.LoadGrammar(g.name, compiled)
	if err != nil {
		g.state, _ = Transition(g.state, EventRejected)
		rejection := &EngineRejection{Grammar: g.name, Err: err}
		g.log.Warn("engine rejected grammar", slogError(rejection))
		return rejection
	}
	g.handle, g.compiled, g.fingerprint = handle, compiled, fingerprint
	g.state, _ = Transition(g.state, EventAccepted)
	g.inContext = false

	for _, r := range g.rules {
		if r.exported && r.enabled && r.context == nil && g.context == nil {
			g.setActive(r, true)
		}
	}
	g.log.Info("grammar loaded",
		slog.Int("rules", len(compiled.Rules)),
		slog.Int("words", len(compiled.Words)),
		slog.String("fingerprint", fingerprint))
	return nil
}

func (g *Grammar) compileWithFingerprint() (*CompiledGrammar, string, error) {
	compiled, err := g.Compile()
	if err != nil {
		return nil, "", err
	}
	fingerprint, err := compiled.Fingerprint()
	if err != nil {
		return nil, "", fmt.Errorf("fingerprint grammar %q: %w", g.name, err)
	}
	return compiled, fingerprint, nil
}

// Unload deregisters the grammar from its engine. Unloading an unloaded
// grammar does nothing.
func (g *Grammar) Unload() error {
	if g.state == StateUnloaded {
		return nil
	}
	next, err := Transition(g.state, EventUnload)
	if err != nil {
		return err
	}
	var unloadErr error
	if g.engine != nil {
		if err := g.engine.UnloadGrammar(g.handle); err != nil {
			unloadErr = fmt.Errorf("unload grammar %q: %w", g.name, err)
			g.log.Warn("engine failed to unload grammar", slogError(err))
		}
	}
	for _, r := range g.rules {
		r.active = false
	}
	g.state = next
	g.inContext = false
	g.handle, g.compiled, g.fingerprint = 0, nil, ""
	g.log.Info("grammar unloaded")
	return unloadErr
}

// Reload recompiles a loaded grammar and swaps the live compiled form. The
// previous form stays live if compiling or loading the new one fails. An
// unloaded grammar is loaded instead.
func (g *Grammar) Reload() error {
	if g.state != StateLoaded {
		return g.Load()
	}
	g.stale.Store(false)
	compiled, fingerprint, err := g.compileWithFingerprint()
	if err != nil {
		g.stale.Store(true)
		return err
	}
	if fingerprint == g.fingerprint {
		g.compiled = compiled
		return nil
	}
	handle, err := g.engine.LoadGrammar(g.name, compiled)
	if err != nil {
		g.stale.Store(true)
		return &EngineRejection{Grammar: g.name, Err: err}
	}
	old := g.handle
	g.handle, g.compiled, g.fingerprint = handle, compiled, fingerprint
	if err := g.engine.UnloadGrammar(old); err != nil {
		g.log.Warn("engine failed to unload superseded grammar", slogError(err))
	}
	for _, r := range g.rules {
		if r.active {
			if err := g.engine.UpdateRuleActivation(g.handle, r.name, true); err != nil {
				g.log.Warn("failed to restore rule activation", slog.String("rule", r.name), slogError(err))
			}
		}
	}
	g.log.Info("grammar reloaded", slog.String("fingerprint", fingerprint))
	return nil
}

// ActivateRule makes an exported rule eligible for recognition until the
// next ProcessBegin re-evaluates it.
func (g *Grammar) ActivateRule(name string) error {
	return g.toggleRule(name, true)
}

// DeactivateRule excludes a rule from recognition until the next
// ProcessBegin re-evaluates it.
func (g *Grammar) DeactivateRule(name string) error {
	return g.toggleRule(name, false)
}

func (g *Grammar) toggleRule(name string, active bool) error {
	r := g.Rule(name)
	if r == nil {
		return &DefinitionError{Grammar: g.name, Rule: name, Reason: "no such rule"}
	}
	if g.state != StateLoaded {
		return fmt.Errorf("grammar %q: cannot change rule activation while %s", g.name, g.state)
	}
	if active && !r.exported {
		return &DefinitionError{Grammar: g.name, Rule: name, Reason: "only exported rules can be activated"}
	}
	if r.active == active {
		return nil
	}
	return g.setActive(r, active)
}

func (g *Grammar) setActive(r *Rule, active bool) error {
	if err := g.engine.UpdateRuleActivation(g.handle, r.name, active); err != nil {
		g.log.Warn("failed to update rule activation",
			slog.String("rule", r.name), slog.Bool("active", active), slogError(err))
		return err
	}
	r.active = active
	return nil
}

// ProcessBegin re-evaluates grammar and rule contexts for a new utterance.
func (g *Grammar) ProcessBegin(win Window) {
	if g.state != StateLoaded {
		return
	}
	inContext := g.enabled && (g.context == nil || g.context.Matches(win))
	if inContext != g.inContext {
		g.inContext = inContext
		if inContext && g.onEnterContext != nil {
			g.onEnterContext()
		}
		if !inContext && g.onExitContext != nil {
			g.onExitContext()
		}
	}
	for _, r := range g.rules {
		want := inContext && r.shouldBeActive(win)
		if want != r.active {
			_ = g.setActive(r, want)
		}
	}
}

// ProcessRecognition decodes words against the active exported rules in
// insertion order and runs the first match's callback. It reports whether
// the recognition was handled and dispatch should stop. Callback failures are
// logged and still count as handled.
func (g *Grammar) ProcessRecognition(words []string) bool {
	_, handled := g.Recognize(words)
	return handled
}

// Recognize is ProcessRecognition that also returns the recognition passed
// to the matching rule. The recognition is non-nil whenever a rule matched,
// including pass-through matches that report handled as false.
func (g *Grammar) Recognize(words []string) (*Recognition, bool) {
	if g.state != StateLoaded || !g.enabled {
		return nil, false
	}
	if g.filter != nil && !g.filter(words) {
		return nil, false
	}
	for _, r := range g.rules {
		if !r.active || !r.exported {
			continue
		}
		res, ok := decodeRule(r, words, g.log)
		if !ok {
			continue
		}
		rec := &Recognition{
			Grammar: g.name,
			Rule:    r.name,
			Words:   append([]string(nil), words...),
			Root:    res.Root,
			Value:   res.Value,
			Extras:  res.Extras,
		}
		g.invoke(r, rec)
		return rec, !rec.passThrough
	}
	g.log.Debug("no rule matched recognition", slog.String("words", strings.Join(words, " ")))
	return nil, false
}

func (g *Grammar) invoke(r *Rule, rec *Recognition) {
	if r.callback == nil {
		return
	}
	err := safeCall(r.callback, rec)
	if err == nil {
		return
	}
	cbErr := &CallbackError{Grammar: g.name, Rule: r.name, Words: rec.Words, Err: err}
	g.log.Error("rule callback failed",
		slog.String("rule", r.name),
		slog.String("words", strings.Join(rec.Words, " ")),
		slogError(err))
	if g.onCallbackErr != nil {
		g.onCallbackErr(cbErr)
	}
}

func safeCall(fn Callback, rec *Recognition) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(rec)
}

// ProcessRecognitionOther notifies the grammar that another grammar handled
// the recognition.
func (g *Grammar) ProcessRecognitionOther(words []string) {
	if g.state == StateLoaded && g.onOther != nil {
		g.onOther(words)
	}
}

// ProcessRecognitionFailure notifies the grammar of a failed recognition. No
// decoding takes place.
func (g *Grammar) ProcessRecognitionFailure() {
	if g.state == StateLoaded && g.onFailure != nil {
		g.onFailure()
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
