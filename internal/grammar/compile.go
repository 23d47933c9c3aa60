package grammar

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// NodeKind tags a CompiledNode.
type NodeKind string

const (
	KindWord        NodeKind = "word"
	KindSequence    NodeKind = "sequence"
	KindAlternative NodeKind = "alternative"
	KindOptional    NodeKind = "optional"
	KindRepeat      NodeKind = "repeat"
	KindRule        NodeKind = "rule"
	KindList        NodeKind = "list"
	KindDictation   NodeKind = "dictation"
	KindEmpty       NodeKind = "empty"
	KindImpossible  NodeKind = "impossible"
)

// CompiledNode is an engine-neutral, positioned grammar node. ID is the
// node's pre-order position within its rule definition. Ref holds the rule
// ID for rule nodes and the list ID for list nodes.
type CompiledNode struct {
	Kind     NodeKind       `json:"kind" cbor:"1,keyasint"`
	ID       int            `json:"id" cbor:"2,keyasint"`
	Word     string         `json:"word,omitempty" cbor:"3,keyasint,omitempty"`
	Ref      int            `json:"ref,omitempty" cbor:"4,keyasint,omitempty"`
	Min      int            `json:"min,omitempty" cbor:"5,keyasint,omitempty"`
	Max      int            `json:"max,omitempty" cbor:"6,keyasint,omitempty"`
	Children []CompiledNode `json:"children,omitempty" cbor:"7,keyasint,omitempty"`
}

// RuleDefinition is one compiled rule. IDs start at 1.
type RuleDefinition struct {
	ID       int          `json:"id" cbor:"1,keyasint"`
	Name     string       `json:"name" cbor:"2,keyasint"`
	Exported bool         `json:"exported" cbor:"3,keyasint"`
	Imported bool         `json:"imported,omitempty" cbor:"4,keyasint,omitempty"`
	Root     CompiledNode `json:"root" cbor:"5,keyasint"`
}

// CompiledList is a snapshot of a list's phrases at compile time. IDs start
// at 1.
type CompiledList struct {
	ID    int      `json:"id" cbor:"1,keyasint"`
	Name  string   `json:"name" cbor:"2,keyasint"`
	Items []string `json:"items" cbor:"3,keyasint"`
}

// CompiledGrammar is the compiler's output. It is immutable once produced.
type CompiledGrammar struct {
	Name  string           `json:"name" cbor:"1,keyasint"`
	Words []string         `json:"words" cbor:"2,keyasint"`
	Lists []CompiledList   `json:"lists,omitempty" cbor:"3,keyasint,omitempty"`
	Rules []RuleDefinition `json:"rules" cbor:"4,keyasint"`
}

// Rule returns the definition named name.
func (c *CompiledGrammar) Rule(name string) (RuleDefinition, bool) {
	for _, def := range c.Rules {
		if def.Name == name {
			return def, true
		}
	}
	return RuleDefinition{}, false
}

// Compile lowers rules into a CompiledGrammar named name. RuleRefs made by
// name are resolved against rules and their dependencies. Rules referenced
// but not listed are appended as imported definitions.
func Compile(name string, rules []*Rule) (*CompiledGrammar, error) {
	c := &compiler{
		name:    name,
		ruleIDs: make(map[*Rule]int),
		byName:  make(map[string]*Rule),
		listIDs: make(map[string]int),
		words:   make(map[string]struct{}),
	}
	for _, r := range rules {
		if err := c.add(r, false); err != nil {
			return nil, err
		}
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	if err := c.checkTermination(); err != nil {
		return nil, err
	}
	out := &CompiledGrammar{Name: name}
	for i, r := range c.order {
		c.nextID = 0
		out.Rules = append(out.Rules, RuleDefinition{
			ID:       i + 1,
			Name:     r.name,
			Exported: r.exported && !c.imported[i],
			Imported: c.imported[i],
			Root:     c.lower(r.root),
		})
	}
	out.Lists = c.lists
	out.Words = make([]string, 0, len(c.words))
	for w := range c.words {
		out.Words = append(out.Words, w)
	}
	slices.Sort(out.Words)
	return out, nil
}

type compiler struct {
	name     string
	order    []*Rule
	imported []bool
	ruleIDs  map[*Rule]int
	byName   map[string]*Rule
	lists    []CompiledList
	listIDs  map[string]int
	words    map[string]struct{}
	nextID   int
}

func (c *compiler) add(r *Rule, imported bool) error {
	if r == nil {
		return &DefinitionError{Grammar: c.name, Reason: "nil rule"}
	}
	if existing, ok := c.byName[r.name]; ok {
		if existing == r {
			return nil
		}
		return &DefinitionError{Grammar: c.name, Rule: r.name,
			Reason: "rule name defined more than once with different definitions"}
	}
	if err := Validate(r.root); err != nil {
		var de *DefinitionError
		if errors.As(err, &de) {
			de.Grammar, de.Rule = c.name, r.name
		}
		return err
	}
	c.byName[r.name] = r
	c.ruleIDs[r] = len(c.order) + 1
	c.order = append(c.order, r)
	c.imported = append(c.imported, imported)
	return nil
}

// resolve binds RuleRefs to rules and pulls referenced rules in as imported
// dependencies. The rule list grows while it is walked.
func (c *compiler) resolve() error {
	for i := 0; i < len(c.order); i++ {
		r := c.order[i]
		err := walk(r.root, func(e Element) error {
			ref, ok := e.(*RuleRef)
			if !ok {
				return nil
			}
			if ref.rule == nil {
				target, found := c.byName[ref.ruleName]
				if !found {
					return &DefinitionError{
						Grammar:    c.name,
						Rule:       r.name,
						Element:    describe(ref),
						Reason:     fmt.Sprintf("reference to unknown rule %q", ref.ruleName),
						Suggestion: ClosestName(ref.ruleName, c.ruleNames()),
					}
				}
				ref.rule = target
				return nil
			}
			if existing, found := c.byName[ref.rule.name]; found && existing != ref.rule {
				return &DefinitionError{Grammar: c.name, Rule: r.name, Element: describe(ref),
					Reason: fmt.Sprintf("rule %q is both defined and imported with a different definition", ref.rule.name)}
			}
			return c.add(ref.rule, true)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) ruleNames() []string {
	names := make([]string, 0, len(c.order))
	for _, r := range c.order {
		names = append(names, r.name)
	}
	return names
}

// ClosestName suggests the candidate nearest to target, or "" when none
// is close.
func ClosestName(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) > 0 {
		slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int { return a.Distance - b.Distance })
		return ranks[0].Target
	}
	best, bestDist := "", -1
	for _, cand := range candidates {
		d := fuzzy.LevenshteinDistance(strings.ToLower(target), strings.ToLower(cand))
		if bestDist < 0 || d < bestDist {
			best, bestDist = cand, d
		}
	}
	if bestDist > len(target)/2+1 {
		return ""
	}
	return best
}

// checkTermination rejects rules that can only be expanded through
// references to themselves, i.e. that derive no finite word sequence.
func (c *compiler) checkTermination() error {
	terminates := make(map[*Rule]bool, len(c.order))
	for changed := true; changed; {
		changed = false
		for _, r := range c.order {
			if terminates[r] {
				continue
			}
			if elementTerminates(r.root, terminates) {
				terminates[r] = true
				changed = true
			}
		}
	}
	for _, r := range c.order {
		if !terminates[r] {
			return &DefinitionError{Grammar: c.name, Rule: r.name,
				Reason: "rule references itself without a terminating alternative"}
		}
	}
	return nil
}

func elementTerminates(el Element, rules map[*Rule]bool) bool {
	switch e := el.(type) {
	case *Sequence:
		for _, child := range e.children {
			if !elementTerminates(child, rules) {
				return false
			}
		}
		return true
	case *Alternative:
		for _, child := range e.children {
			if elementTerminates(child, rules) {
				return true
			}
		}
		return false
	case *Optional:
		return true
	case *Repetition:
		return e.min == 0 || elementTerminates(e.child, rules)
	case *Modifier:
		return elementTerminates(e.child, rules)
	case *RuleRef:
		return e.rule != nil && rules[e.rule]
	}
	return true
}

func (c *compiler) node(kind NodeKind) CompiledNode {
	n := CompiledNode{Kind: kind, ID: c.nextID}
	c.nextID++
	return n
}

func (c *compiler) lower(el Element) CompiledNode {
	switch e := el.(type) {
	case *Literal:
		if len(e.words) == 1 {
			return c.word(e.words[0])
		}
		n := c.node(KindSequence)
		for _, w := range e.words {
			n.Children = append(n.Children, c.word(w))
		}
		return n
	case *Sequence:
		n := c.node(KindSequence)
		for _, child := range e.children {
			n.Children = append(n.Children, c.lower(child))
		}
		return n
	case *Alternative:
		n := c.node(KindAlternative)
		for _, child := range e.children {
			n.Children = append(n.Children, c.lower(child))
		}
		return n
	case *Optional:
		n := c.node(KindOptional)
		n.Children = []CompiledNode{c.lower(e.child)}
		return n
	case *Repetition:
		if e.optimize {
			n := c.node(KindRepeat)
			n.Min, n.Max = e.min, e.max
			n.Children = []CompiledNode{c.lower(e.child)}
			return n
		}
		return c.expandRepetition(e)
	case *RuleRef:
		n := c.node(KindRule)
		n.Ref = c.ruleIDs[e.rule]
		return n
	case *Empty:
		return c.node(KindEmpty)
	case *Impossible:
		return c.node(KindImpossible)
	case *Modifier:
		return c.lower(e.child)
	case *ListRef:
		n := c.node(KindList)
		n.Ref = c.listID(e)
		return n
	case *Dictation:
		return c.node(KindDictation)
	}
	return c.node(KindImpossible)
}

func (c *compiler) word(w string) CompiledNode {
	folded := strings.ToLower(w)
	c.words[folded] = struct{}{}
	n := c.node(KindWord)
	n.Word = folded
	return n
}

// expandRepetition emits min copies of the child followed by a nested chain
// of optionals for the remaining max-min repetitions:
// child{min} [child [child [...]]]. An unbounded tail becomes an open repeat
// node since it has no finite expansion.
func (c *compiler) expandRepetition(r *Repetition) CompiledNode {
	seq := c.node(KindSequence)
	for i := 0; i < r.min; i++ {
		seq.Children = append(seq.Children, c.lower(r.child))
	}
	switch {
	case r.max == Unbounded:
		tail := c.node(KindRepeat)
		tail.Min, tail.Max = 0, Unbounded
		tail.Children = []CompiledNode{c.lower(r.child)}
		seq.Children = append(seq.Children, tail)
	case r.max > r.min:
		seq.Children = append(seq.Children, c.optionalChain(r.child, r.max-r.min))
	}
	switch len(seq.Children) {
	case 0:
		seq.Kind = KindEmpty
	case 1:
		return seq.Children[0]
	}
	return seq
}

func (c *compiler) optionalChain(child Element, depth int) CompiledNode {
	opt := c.node(KindOptional)
	if depth == 1 {
		opt.Children = []CompiledNode{c.lower(child)}
		return opt
	}
	seq := c.node(KindSequence)
	seq.Children = []CompiledNode{c.lower(child), c.optionalChain(child, depth-1)}
	opt.Children = []CompiledNode{seq}
	return opt
}

func (c *compiler) listID(ref *ListRef) int {
	name := ref.ListName()
	if id, ok := c.listIDs[name]; ok {
		return id
	}
	id := len(c.lists) + 1
	c.listIDs[name] = id
	var items []string
	if src := ref.source(); src != nil {
		for _, p := range src.phrases() {
			items = append(items, strings.Join(p.words, " "))
		}
	}
	c.lists = append(c.lists, CompiledList{ID: id, Name: name, Items: items})
	return id
}
