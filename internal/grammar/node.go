package grammar

import (
	"strings"

	"github.com/loqalabs/loqa-grammar/internal/dictation"
)

// Node is one element's match inside a decoded parse tree. Begin and End
// index the recognized words the element consumed.
type Node struct {
	Element  Element
	Begin    int
	End      int
	Children []*Node

	words    []string
	value    any
	hasValue bool
}

func newNode(el Element, words []string, begin, end int, children []*Node) *Node {
	return &Node{Element: el, Begin: begin, End: end, Children: children, words: words}
}

// Name is the element's name, empty for anonymous elements.
func (n *Node) Name() string { return n.Element.Name() }

// Words returns the recognized words this node consumed.
func (n *Node) Words() []string {
	return append([]string(nil), n.words[n.Begin:n.End]...)
}

// Value computes the node's decoded value.
func (n *Node) Value() any {
	if n.hasValue {
		return n.value
	}
	b := n.Element.base()
	if b.hasValue {
		return b.value
	}
	switch n.Element.(type) {
	case *Literal:
		return strings.Join(n.words[n.Begin:n.End], " ")
	case *Sequence, *Repetition:
		values := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			values = append(values, child.Value())
		}
		return values
	case *Alternative, *Optional, *RuleRef:
		if len(n.Children) == 0 {
			return nil
		}
		return n.Children[0].Value()
	case *Dictation:
		return dictation.NewText(n.Words())
	}
	return nil
}

// ChildByName returns the first descendant named name in depth-first order.
// When shallow is set the search does not descend into named nodes.
func (n *Node) ChildByName(name string, shallow bool) *Node {
	for _, child := range n.Children {
		if child.Name() == name {
			return child
		}
		if shallow && child.Name() != "" {
			continue
		}
		if found := child.ChildByName(name, shallow); found != nil {
			return found
		}
	}
	return nil
}

// ChildrenByName returns every descendant named name in depth-first order.
func (n *Node) ChildrenByName(name string) []*Node {
	var out []*Node
	for _, child := range n.Children {
		if child.Name() == name {
			out = append(out, child)
		}
		out = append(out, child.ChildrenByName(name)...)
	}
	return out
}

// Extras maps element names to decoded values.
type Extras map[string]any

// Get returns the extra stored under name.
func (e Extras) Get(name string) (any, bool) {
	v, ok := e[name]
	return v, ok
}

// String returns the extra as a string when it holds one.
func (e Extras) String(name string) string {
	switch v := e[name].(type) {
	case string:
		return v
	case dictation.Text:
		return v.String()
	}
	return ""
}

// collectExtras gathers the values of named nodes below n. A named node's own
// descendants are not visited, and the first occurrence of a name wins.
func collectExtras(n *Node, into Extras) {
	for _, child := range n.Children {
		if name := child.Name(); name != "" {
			if _, seen := into[name]; !seen {
				into[name] = child.Value()
			}
			continue
		}
		collectExtras(child, into)
	}
}
