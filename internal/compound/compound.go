package compound

import (
	"errors"
	"fmt"
	"slices"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// New parses spec into an element. The result is an Alternative with a
// single child so that opts (name, value, default) apply to the whole spec.
// Every element in extras must be named; <name> references in spec resolve
// against those names.
func New(spec string, extras []grammar.Element, opts ...grammar.Option) (*grammar.Alternative, error) {
	byName, err := extrasByName(extras)
	if err != nil {
		return nil, err
	}
	return build(spec, byName, opts)
}

// MustNew is New for specs known to be valid; it panics on error.
func MustNew(spec string, extras []grammar.Element, opts ...grammar.Option) *grammar.Alternative {
	el, err := New(spec, extras, opts...)
	if err != nil {
		panic(err)
	}
	return el
}

func build(spec string, extras map[string]grammar.Element, opts []grammar.Option) (*grammar.Alternative, error) {
	el, err := Parse(spec, extras)
	if err != nil {
		return nil, err
	}
	alt := grammar.NewAlternative([]grammar.Element{el}, opts...)
	if err := grammar.Validate(alt); err != nil {
		return nil, err
	}
	return alt, nil
}

func extrasByName(extras []grammar.Element) (map[string]grammar.Element, error) {
	byName := make(map[string]grammar.Element, len(extras))
	for i, el := range extras {
		if el == nil {
			return nil, &grammar.DefinitionError{Reason: fmt.Sprintf("extra %d is nil", i)}
		}
		name := el.Name()
		if name == "" {
			return nil, &grammar.DefinitionError{Reason: fmt.Sprintf("extra %d has no name", i)}
		}
		if _, dup := byName[name]; dup {
			return nil, &grammar.DefinitionError{Element: "<" + name + ">", Reason: "extra name used more than once"}
		}
		byName[name] = el
	}
	return byName, nil
}

// Choice builds an element named name that matches any of the specs in
// choices and decodes to the mapped value. Specs are tried in sorted order.
// A nil value decodes to the recognized words instead.
func Choice(name string, choices map[string]any, extras []grammar.Element, opts ...grammar.Option) (*grammar.Alternative, error) {
	return ChoiceEntries(name, Entries(choices), extras, opts...)
}

// ChoiceList is Choice over plain specs; each decodes to its recognized
// words.
func ChoiceList(name string, specs []string, extras []grammar.Element, opts ...grammar.Option) (*grammar.Alternative, error) {
	entries := make([]Entry, len(specs))
	for i, spec := range specs {
		entries[i] = Entry{Spec: spec}
	}
	return ChoiceEntries(name, entries, extras, opts...)
}

// ChoiceEntries is Choice with an explicit spec order.
func ChoiceEntries(name string, entries []Entry, extras []grammar.Element, opts ...grammar.Option) (*grammar.Alternative, error) {
	byName, err := extrasByName(extras)
	if err != nil {
		return nil, err
	}
	children, err := entryElements(entries, byName)
	if err != nil {
		var de *grammar.DefinitionError
		if errors.As(err, &de) && de.Element == "" {
			de.Element = "Choice(" + name + ")"
		}
		return nil, err
	}
	return grammar.NewAlternative(children, append([]grammar.Option{grammar.WithName(name)}, opts...)...), nil
}

// Entry pairs a spec with the value it decodes to.
type Entry struct {
	Spec  string
	Value any
}

// Entries converts a map into entries sorted by spec.
func Entries(m map[string]any) []Entry {
	specs := make([]string, 0, len(m))
	for spec := range m {
		specs = append(specs, spec)
	}
	slices.Sort(specs)
	out := make([]Entry, len(specs))
	for i, spec := range specs {
		out[i] = Entry{Spec: spec, Value: m[spec]}
	}
	return out
}

func entryElements(entries []Entry, extras map[string]grammar.Element) ([]grammar.Element, error) {
	if len(entries) == 0 {
		return nil, &grammar.DefinitionError{Reason: "no specs given"}
	}
	children := make([]grammar.Element, 0, len(entries))
	for _, e := range entries {
		var opts []grammar.Option
		if e.Value != nil {
			opts = append(opts, grammar.WithValue(e.Value))
		}
		child, err := build(e.Spec, extras, opts)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
