package grammar

import (
	"fmt"
	"log/slog"
	"strings"
)

// Result is a successful decode of a rule against a word sequence.
type Result struct {
	Root   *Node
	Value  any
	Extras Extras
}

// Decode matches words against the rule's element tree. It succeeds only when
// the whole word sequence is consumed. A failed match is the ok=false return
// and is not an error.
func Decode(rule *Rule, words []string) (Result, bool) {
	return decodeRule(rule, words, nil)
}

func decodeRule(rule *Rule, words []string, log *slog.Logger) (Result, bool) {
	if rule == nil || rule.root == nil {
		return Result{}, false
	}
	root, ok := DecodeElement(rule.root, words, log)
	if !ok {
		return Result{}, false
	}
	extras := make(Extras, len(rule.defaults))
	if name := root.Name(); name != "" {
		extras[name] = root.Value()
	}
	collectExtras(root, extras)
	for name, def := range rule.defaults {
		if _, ok := extras[name]; !ok {
			extras[name] = def
		}
	}
	return Result{Root: root, Value: root.Value(), Extras: extras}, true
}

// DecodeElement matches words against an element tree and returns the root
// of the parse tree.
func DecodeElement(el Element, words []string, log *slog.Logger) (*Node, bool) {
	d := newDecoder(words, log)
	var root *Node
	ok := d.decode(el, 0, func(end int, n *Node) bool {
		if end != len(words) {
			return false
		}
		root = n
		return true
	})
	return root, ok
}

// cont receives each candidate match, most preferred first. Returning true
// accepts the candidate and stops the search.
type cont func(end int, n *Node) bool

type refFrame struct {
	rule *Rule
	pos  int
}

type decoder struct {
	words  []string
	folded []string
	log    *slog.Logger
	active map[refFrame]int
}

func newDecoder(words []string, log *slog.Logger) *decoder {
	folded := make([]string, len(words))
	for i, w := range words {
		folded[i] = strings.ToLower(w)
	}
	return &decoder{
		words:  words,
		folded: folded,
		log:    log,
		active: make(map[refFrame]int),
	}
}

func (d *decoder) decode(el Element, pos int, k cont) bool {
	switch e := el.(type) {
	case *Literal:
		return d.literal(e, pos, k)
	case *Sequence:
		return d.sequence(e.children, 0, pos, nil, func(end int, children []*Node) bool {
			return k(end, newNode(e, d.words, pos, end, children))
		})
	case *Alternative:
		for _, child := range e.children {
			matched := d.decode(child, pos, func(end int, n *Node) bool {
				return k(end, newNode(e, d.words, pos, end, []*Node{n}))
			})
			if matched {
				return true
			}
		}
		return false
	case *Optional:
		matched := d.decode(e.child, pos, func(end int, n *Node) bool {
			return k(end, newNode(e, d.words, pos, end, []*Node{n}))
		})
		if matched {
			return true
		}
		return k(pos, newNode(e, d.words, pos, pos, nil))
	case *Repetition:
		return d.repeat(e, pos, nil, func(end int, reps []*Node) bool {
			return k(end, newNode(e, d.words, pos, end, reps))
		})
	case *RuleRef:
		return d.ruleRef(e, pos, k)
	case *Empty:
		return k(pos, newNode(e, d.words, pos, pos, nil))
	case *Impossible:
		return false
	case *Modifier:
		return d.decode(e.child, pos, func(end int, n *Node) bool {
			value, err := applyModifier(e.fn, n.Value())
			if err != nil {
				if d.log != nil {
					d.log.Debug("modifier rejected match",
						slog.String("element", describe(e)),
						slog.String("error", err.Error()))
				}
				return false
			}
			node := newNode(e, d.words, pos, end, []*Node{n})
			node.value = value
			node.hasValue = true
			return k(end, node)
		})
	case *ListRef:
		return d.list(e, pos, k)
	case *Dictation:
		for end := len(d.words); end > pos; end-- {
			if k(end, newNode(e, d.words, pos, end, nil)) {
				return true
			}
		}
		return false
	}
	return false
}

func (d *decoder) literal(l *Literal, pos int, k cont) bool {
	if !d.matchWords(l.words, pos) {
		return false
	}
	end := pos + len(l.words)
	return k(end, newNode(l, d.words, pos, end, nil))
}

func (d *decoder) matchWords(words []string, pos int) bool {
	if len(words) == 0 || pos+len(words) > len(d.folded) {
		return false
	}
	for i, w := range words {
		if d.folded[pos+i] != strings.ToLower(w) {
			return false
		}
	}
	return true
}

func (d *decoder) sequence(children []Element, i, pos int, acc []*Node, k func(int, []*Node) bool) bool {
	if i == len(children) {
		return k(pos, acc)
	}
	return d.decode(children[i], pos, func(end int, n *Node) bool {
		return d.sequence(children, i+1, end, appendNode(acc, n), k)
	})
}

// repeat tries one more repetition before settling for the ones matched so
// far. Zero-width repetitions only count toward reaching min.
func (d *decoder) repeat(r *Repetition, pos int, acc []*Node, k func(int, []*Node) bool) bool {
	count := len(acc)
	if r.max == Unbounded || count < r.max {
		matched := d.decode(r.child, pos, func(end int, n *Node) bool {
			if end == pos && count >= r.min {
				return false
			}
			return d.repeat(r, end, appendNode(acc, n), k)
		})
		if matched {
			return true
		}
	}
	if count >= r.min {
		return k(pos, acc)
	}
	return false
}

func (d *decoder) ruleRef(ref *RuleRef, pos int, k cont) bool {
	rule := ref.rule
	if rule == nil || rule.root == nil {
		return false
	}
	// A reference re-entered at the same position cannot make progress.
	frame := refFrame{rule: rule, pos: pos}
	if d.active[frame] > 0 {
		return false
	}
	// The frame is only active while the rule's own root is being matched;
	// what follows the reference may use the same rule at the same position.
	d.active[frame]++
	defer func() { d.active[frame]-- }()
	return d.decode(rule.root, pos, func(end int, n *Node) bool {
		d.active[frame]--
		defer func() { d.active[frame]++ }()
		return k(end, newNode(ref, d.words, pos, end, []*Node{n}))
	})
}

// applyModifier runs a transform, turning a panic into an error so the
// candidate fails like any rejected match.
func applyModifier(fn ModifierFunc, value any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("modifier panic: %v", p)
		}
	}()
	return fn(value)
}

// list offers every matching phrase, longest first, keeping list order
// between phrases of equal length.
func (d *decoder) list(ref *ListRef, pos int, k cont) bool {
	src := ref.source()
	if src == nil {
		return false
	}
	var candidates []listPhrase
	for _, p := range src.phrases() {
		if d.matchWords(p.words, pos) {
			candidates = append(candidates, p)
		}
	}
	for len(candidates) > 0 {
		best := 0
		for i, c := range candidates {
			if len(c.words) > len(candidates[best].words) {
				best = i
			}
		}
		p := candidates[best]
		candidates = append(candidates[:best], candidates[best+1:]...)
		end := pos + len(p.words)
		node := newNode(ref, d.words, pos, end, nil)
		if !ref.hasValue {
			node.value = p.value
			node.hasValue = true
		}
		if k(end, node) {
			return true
		}
	}
	return false
}

// appendNode returns acc with n appended without sharing acc's backing array,
// since sibling branches of the search extend the same prefix.
func appendNode(acc []*Node, n *Node) []*Node {
	out := make([]*Node, len(acc), len(acc)+1)
	copy(out, acc)
	return append(out, n)
}
