package grammar

import (
	"errors"
	"strings"
)

// Recognition is handed to a rule's callback after a successful decode.
type Recognition struct {
	Grammar string
	Rule    string
	Words   []string
	Root    *Node
	Value   any
	Extras  Extras

	passThrough bool
}

// PassThrough lets the engine offer the recognition to later grammars even
// though this rule handled it.
func (r *Recognition) PassThrough() { r.passThrough = true }

// Callback processes a decoded recognition.
type Callback func(rec *Recognition) error

// Rule is a named, independently activatable element tree with a processing
// callback.
type Rule struct {
	name     string
	root     Element
	exported bool
	enabled  bool
	active   bool
	context  Context
	callback Callback
	defaults map[string]any

	// grammarID identifies the owning grammar; zero while unattached.
	grammarID uint64
}

// RuleOption configures a rule at construction.
type RuleOption func(*Rule)

// Exported controls whether the rule can be recognized on its own. Rules are
// exported by default.
func Exported(exported bool) RuleOption {
	return func(r *Rule) { r.exported = exported }
}

// WithRuleContext restricts the rule to windows matching ctx.
func WithRuleContext(ctx Context) RuleOption {
	return func(r *Rule) { r.context = ctx }
}

// OnRecognize sets the processing callback.
func OnRecognize(fn Callback) RuleOption {
	return func(r *Rule) { r.callback = fn }
}

// NewRule validates root and builds a rule.
func NewRule(name string, root Element, opts ...RuleOption) (*Rule, error) {
	r := &Rule{name: strings.TrimSpace(name), root: root, exported: true, enabled: true}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.name == "" {
		return nil, definitionErrorf("", "rule name must not be empty")
	}
	if root == nil || isNilElement(root) {
		return nil, definitionErrorf(r.name, "rule has no root element")
	}
	if err := Validate(root); err != nil {
		var de *DefinitionError
		if errors.As(err, &de) {
			de.Rule = r.name
		}
		return nil, err
	}
	r.defaults = collectDefaults(root)
	return r, nil
}

// MustRule is NewRule for definitions known to be valid; it panics on error.
func MustRule(name string, root Element, opts ...RuleOption) *Rule {
	r, err := NewRule(name, root, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rule) Name() string      { return r.name }
func (r *Rule) Element() Element  { return r.root }
func (r *Rule) Exported() bool    { return r.exported }
func (r *Rule) Enabled() bool     { return r.enabled }
func (r *Rule) Context() Context  { return r.context }
func (r *Rule) GrammarID() uint64 { return r.grammarID }

// Active reports whether the rule is eligible for the current utterance.
func (r *Rule) Active() bool { return r.active }

// Enable makes the rule eligible for activation at the next utterance.
func (r *Rule) Enable() { r.enabled = true }

// Disable excludes the rule from activation from the next utterance on.
func (r *Rule) Disable() { r.enabled = false }

// SetCallback replaces the processing callback.
func (r *Rule) SetCallback(fn Callback) { r.callback = fn }

// Dependencies returns the rules referenced from this rule's tree,
// transitively, in first-reference order. Unresolved references are skipped.
func (r *Rule) Dependencies() []*Rule {
	seen := map[*Rule]bool{r: true}
	var out []*Rule
	var visit func(el Element)
	visit = func(el Element) {
		_ = walk(el, func(e Element) error {
			ref, ok := e.(*RuleRef)
			if !ok || ref.rule == nil || seen[ref.rule] {
				return nil
			}
			seen[ref.rule] = true
			out = append(out, ref.rule)
			visit(ref.rule.root)
			return nil
		})
	}
	visit(r.root)
	return out
}

// shouldBeActive evaluates the rule's own gating for an utterance.
func (r *Rule) shouldBeActive(win Window) bool {
	if !r.exported || !r.enabled {
		return false
	}
	return r.context == nil || r.context.Matches(win)
}

// collectDefaults finds named elements carrying a default, without crossing
// into referenced rules.
func collectDefaults(root Element) map[string]any {
	defaults := make(map[string]any)
	_ = walk(root, func(e Element) error {
		b := e.base()
		if b.name != "" && b.hasDefault {
			if _, ok := defaults[b.name]; !ok {
				defaults[b.name] = b.def
			}
		}
		return nil
	})
	return defaults
}
