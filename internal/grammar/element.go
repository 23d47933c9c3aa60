// Package grammar implements the element/rule/grammar object model, the
// compiler that lowers it into an engine-neutral CompiledGrammar, and the
// backtracking decoder that turns recognized words back into values.
package grammar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Unbounded marks a Repetition without an upper limit.
const Unbounded = -1

// Element is a node of a grammar description tree. The set of variants is
// closed: Literal, Sequence, Alternative, Optional, Repetition, RuleRef,
// Empty, Impossible, Modifier, ListRef and Dictation.
type Element interface {
	// Name is the key the element's value is reported under in extras.
	Name() string
	// Children returns the directly embedded child elements.
	Children() []Element
	base() *elementBase
}

type elementBase struct {
	name       string
	value      any
	hasValue   bool
	def        any
	hasDefault bool
	invalid    error
}

func (b *elementBase) Name() string        { return b.name }
func (b *elementBase) base() *elementBase  { return b }
func (b *elementBase) Children() []Element { return nil }

// Default returns the value reported in extras when the element is named but
// did not take part in a match.
func (b *elementBase) Default() (any, bool) { return b.def, b.hasDefault }

// Option configures an element at construction.
type Option func(*options)

type options struct {
	name        string
	value       any
	hasValue    bool
	def         any
	hasDefault  bool
	optimize    bool
	optimizeSet bool
}

// WithName names the element so its value appears in extras.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithValue substitutes value for the element's decoded value.
func WithValue(value any) Option {
	return func(o *options) {
		o.value = value
		o.hasValue = true
	}
}

// WithDefault sets the extras value used when the element does not match.
func WithDefault(value any) Option {
	return func(o *options) {
		o.def = value
		o.hasDefault = true
	}
}

// WithOptimize controls how a Repetition is compiled. It has no effect on
// decoding.
func WithOptimize(optimize bool) Option {
	return func(o *options) {
		o.optimize = optimize
		o.optimizeSet = true
	}
}

func applyOptions(opts []Option) (elementBase, options) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return elementBase{
		name:       o.name,
		value:      o.value,
		hasValue:   o.hasValue,
		def:        o.def,
		hasDefault: o.hasDefault,
	}, o
}

// Literal matches a fixed sequence of words.
type Literal struct {
	elementBase
	words []string
}

// NewLiteral splits text into words. Double- or single-quoted phrases are
// kept together as one word.
func NewLiteral(text string, opts ...Option) *Literal {
	words, err := splitWords(text)
	if err != nil {
		words = strings.Fields(text)
	}
	lit := NewWords(words, opts...)
	if err != nil && lit.invalid == nil {
		lit.invalid = fmt.Errorf("literal %q: %w", text, err)
	}
	return lit
}

// NewWords builds a Literal from already tokenized words.
func NewWords(words []string, opts ...Option) *Literal {
	b, _ := applyOptions(opts)
	lit := &Literal{elementBase: b}
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			lit.words = append(lit.words, w)
		}
	}
	if len(lit.words) == 0 {
		lit.invalid = errors.New("literal has no words")
	}
	return lit
}

// splitWords tokenizes shell style so quoted phrases stay whole. Text with
// shell operators is split on whitespace instead.
func splitWords(text string) ([]string, error) {
	if strings.ContainsAny(text, ";&|<>`$") {
		return strings.Fields(text), nil
	}
	return shellwords.Parse(text)
}

// Words returns the literal's tokens.
func (l *Literal) Words() []string { return append([]string(nil), l.words...) }

func (l *Literal) String() string { return fmt.Sprintf("Literal(%q)", strings.Join(l.words, " ")) }

// Sequence matches each child in order.
type Sequence struct {
	elementBase
	children []Element
}

func NewSequence(children []Element, opts ...Option) *Sequence {
	b, _ := applyOptions(opts)
	seq := &Sequence{elementBase: b, children: append([]Element(nil), children...)}
	seq.invalid = checkChildren("sequence", seq.children)
	return seq
}

func (s *Sequence) Children() []Element { return s.children }

// Alternative matches the first child, in declaration order, that lets the
// overall match succeed.
type Alternative struct {
	elementBase
	children []Element
}

func NewAlternative(children []Element, opts ...Option) *Alternative {
	b, _ := applyOptions(opts)
	alt := &Alternative{elementBase: b, children: append([]Element(nil), children...)}
	alt.invalid = checkChildren("alternative", alt.children)
	if alt.invalid == nil && len(alt.children) == 0 {
		alt.invalid = errors.New("alternative has no children")
	}
	return alt
}

func (a *Alternative) Children() []Element { return a.children }

// Optional matches its child or nothing.
type Optional struct {
	elementBase
	child Element
}

func NewOptional(child Element, opts ...Option) *Optional {
	b, _ := applyOptions(opts)
	opt := &Optional{elementBase: b, child: child}
	opt.invalid = checkChildren("optional", []Element{child})
	return opt
}

func (o *Optional) Children() []Element { return []Element{o.child} }

// Repetition matches its child between Min and Max times inclusive. Max may
// be Unbounded.
type Repetition struct {
	elementBase
	child    Element
	min      int
	max      int
	optimize bool
}

func NewRepetition(child Element, min, max int, opts ...Option) *Repetition {
	b, o := applyOptions(opts)
	rep := &Repetition{elementBase: b, child: child, min: min, max: max, optimize: true}
	if o.optimizeSet {
		rep.optimize = o.optimize
	}
	rep.invalid = checkChildren("repetition", []Element{child})
	switch {
	case rep.invalid != nil:
	case min < 0:
		rep.invalid = fmt.Errorf("repetition min %d must be >= 0", min)
	case max != Unbounded && max < 0:
		rep.invalid = fmt.Errorf("repetition max %d must be >= 0 or unbounded", max)
	case max != Unbounded && min > max:
		rep.invalid = fmt.Errorf("repetition min %d exceeds max %d", min, max)
	}
	return rep
}

func (r *Repetition) Children() []Element { return []Element{r.child} }
func (r *Repetition) Min() int            { return r.min }
func (r *Repetition) Max() int            { return r.max }
func (r *Repetition) Optimize() bool      { return r.optimize }

// RuleRef matches the root element of another rule. References made by name
// are resolved when the owning grammar is compiled.
type RuleRef struct {
	elementBase
	ruleName string
	rule     *Rule
}

func NewRuleRef(rule *Rule, opts ...Option) *RuleRef {
	b, _ := applyOptions(opts)
	ref := &RuleRef{elementBase: b, rule: rule}
	if rule == nil {
		ref.invalid = errors.New("rule reference to nil rule")
	} else {
		ref.ruleName = rule.Name()
	}
	return ref
}

func NewRuleRefByName(name string, opts ...Option) *RuleRef {
	b, _ := applyOptions(opts)
	ref := &RuleRef{elementBase: b, ruleName: name}
	if strings.TrimSpace(name) == "" {
		ref.invalid = errors.New("rule reference has empty name")
	}
	return ref
}

// RuleName is the name of the referenced rule.
func (r *RuleRef) RuleName() string { return r.ruleName }

// Rule returns the referenced rule, or nil while unresolved.
func (r *RuleRef) Rule() *Rule { return r.rule }

// Empty matches without consuming words. Its value defaults to true so a
// present-but-empty match can be told apart from an absent one.
type Empty struct {
	elementBase
}

func NewEmpty(opts ...Option) *Empty {
	b, _ := applyOptions(opts)
	if !b.hasValue {
		b.value = true
		b.hasValue = true
	}
	return &Empty{elementBase: b}
}

// Impossible never matches.
type Impossible struct {
	elementBase
}

func NewImpossible(opts ...Option) *Impossible {
	b, _ := applyOptions(opts)
	return &Impossible{elementBase: b}
}

// ModifierFunc transforms a child's decoded value. An error makes the match
// fail.
type ModifierFunc func(value any) (any, error)

// Modifier matches its child and transforms the child's value.
type Modifier struct {
	elementBase
	child Element
	fn    ModifierFunc
}

func NewModifier(child Element, fn ModifierFunc, opts ...Option) *Modifier {
	b, _ := applyOptions(opts)
	mod := &Modifier{elementBase: b, child: child, fn: fn}
	mod.invalid = checkChildren("modifier", []Element{child})
	if mod.invalid == nil && fn == nil {
		mod.invalid = errors.New("modifier has nil transform")
	}
	return mod
}

func (m *Modifier) Children() []Element { return []Element{m.child} }

// ListRef matches one item of a List or DictList.
type ListRef struct {
	elementBase
	list *List
	dict *DictList
}

func NewListRef(list *List, opts ...Option) *ListRef {
	b, _ := applyOptions(opts)
	ref := &ListRef{elementBase: b, list: list}
	if list == nil {
		ref.invalid = errors.New("list reference to nil list")
	}
	return ref
}

func NewDictListRef(list *DictList, opts ...Option) *ListRef {
	b, _ := applyOptions(opts)
	ref := &ListRef{elementBase: b, dict: list}
	if list == nil {
		ref.invalid = errors.New("list reference to nil dict list")
	}
	return ref
}

// ListName returns the name of the referenced list.
func (l *ListRef) ListName() string {
	if l.dict != nil {
		return l.dict.Name()
	}
	if l.list != nil {
		return l.list.Name()
	}
	return ""
}

func (l *ListRef) source() listSource {
	if l.dict != nil {
		return l.dict
	}
	return l.list
}

// Dictation matches one or more free-form words.
type Dictation struct {
	elementBase
}

func NewDictation(opts ...Option) *Dictation {
	b, _ := applyOptions(opts)
	return &Dictation{elementBase: b}
}

func checkChildren(kind string, children []Element) error {
	for i, child := range children {
		if child == nil || isNilElement(child) {
			return fmt.Errorf("%s child %d is nil", kind, i)
		}
	}
	return nil
}

func isNilElement(el Element) bool {
	switch e := el.(type) {
	case *Literal:
		return e == nil
	case *Sequence:
		return e == nil
	case *Alternative:
		return e == nil
	case *Optional:
		return e == nil
	case *Repetition:
		return e == nil
	case *RuleRef:
		return e == nil
	case *Empty:
		return e == nil
	case *Impossible:
		return e == nil
	case *Modifier:
		return e == nil
	case *ListRef:
		return e == nil
	case *Dictation:
		return e == nil
	}
	return false
}

// Validate reports the first construction problem found in the tree rooted
// at el. Referenced rules are not descended into.
func Validate(el Element) error {
	return walk(el, func(e Element) error {
		if err := e.base().invalid; err != nil {
			return &DefinitionError{Element: describe(e), Reason: err.Error()}
		}
		return nil
	})
}

// walk visits el and its embedded descendants in pre-order.
func walk(el Element, visit func(Element) error) error {
	if err := visit(el); err != nil {
		return err
	}
	for _, child := range el.Children() {
		if err := walk(child, visit); err != nil {
			return err
		}
	}
	return nil
}

func describe(el Element) string {
	kind := kindOf(el)
	if name := el.Name(); name != "" {
		return fmt.Sprintf("%s(%s)", kind, name)
	}
	if lit, ok := el.(*Literal); ok {
		return lit.String()
	}
	return kind
}

func kindOf(el Element) string {
	switch e := el.(type) {
	case *Literal:
		return "Literal"
	case *Sequence:
		return "Sequence"
	case *Alternative:
		return "Alternative"
	case *Optional:
		return "Optional"
	case *Repetition:
		return "Repetition"
	case *RuleRef:
		return "RuleRef(" + e.ruleName + ")"
	case *Empty:
		return "Empty"
	case *Impossible:
		return "Impossible"
	case *Modifier:
		return "Modifier"
	case *ListRef:
		return "ListRef(" + e.ListName() + ")"
	case *Dictation:
		return "Dictation"
	}
	return fmt.Sprintf("%T", el)
}
