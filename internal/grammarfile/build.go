package grammarfile

import (
	"fmt"
	"maps"
	"slices"

	"github.com/loqalabs/loqa-grammar/internal/compound"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/language/en"
)

const defaultIntegerMax = 1000000

// Build creates the grammar f declares. Lists are registered on the
// grammar so list updates can reach them by name.
func (f File) Build(opts ...grammar.GrammarOption) (*grammar.Grammar, error) {
	if f.Context != nil {
		opts = append(opts, grammar.WithGrammarContext(f.Context.app()))
	}
	g := grammar.NewGrammar(f.Grammar, opts...)
	if f.Enabled != nil && !*f.Enabled {
		g.Disable()
	}

	lists := make(map[string]*grammar.List, len(f.Lists))
	for _, name := range slices.Sorted(maps.Keys(f.Lists)) {
		l := grammar.NewList(name, f.Lists[name]...)
		lists[name] = l
		g.AddList(l)
	}
	dictLists := make(map[string]*grammar.DictList, len(f.DictLists))
	for _, name := range slices.Sorted(maps.Keys(f.DictLists)) {
		d := grammar.NewDictList(name)
		entries := make(map[string]any, len(f.DictLists[name]))
		for k, v := range f.DictLists[name] {
			entries[k] = v
		}
		d.Set(entries)
		dictLists[name] = d
		g.AddDictList(d)
	}

	var extras []grammar.Element
	for _, def := range f.Elements {
		el, err := def.build(extras, lists, dictLists)
		if err != nil {
			return nil, fmt.Errorf("grammar %s: element %s: %w", f.Grammar, def.Name, err)
		}
		extras = append(extras, el)
	}

	for _, def := range f.Rules {
		r, err := def.build(extras)
		if err != nil {
			return nil, fmt.Errorf("grammar %s: %w", f.Grammar, err)
		}
		if err := g.AddRule(r); err != nil {
			return nil, err
		}
		extras = append(extras, grammar.NewRuleRef(r, grammar.WithName(def.Name)))
	}
	return g, nil
}

func (c *Context) app() grammar.AppContext {
	return grammar.AppContext{Executable: c.Executable, Title: c.Title, Exclude: c.Exclude}
}

func (def ElementDef) build(extras []grammar.Element, lists map[string]*grammar.List, dictLists map[string]*grammar.DictList) (grammar.Element, error) {
	opts := []grammar.Option{grammar.WithName(def.Name)}
	if def.Default != nil {
		opts = append(opts, grammar.WithDefault(def.Default))
	}
	switch {
	case def.List != "":
		l, ok := lists[def.List]
		if !ok {
			return nil, fmt.Errorf("unknown list %q", def.List)
		}
		return grammar.NewListRef(l, opts...), nil
	case def.DictList != "":
		d, ok := dictLists[def.DictList]
		if !ok {
			return nil, fmt.Errorf("unknown dict list %q", def.DictList)
		}
		return grammar.NewDictListRef(d, opts...), nil
	case def.Dictation:
		return grammar.NewDictation(opts...), nil
	case def.Integer:
		lo, hi := def.bounds(0, defaultIntegerMax)
		if hi <= lo {
			return nil, fmt.Errorf("integer range [%d, %d) is empty", lo, hi)
		}
		return en.IntegerRef(def.Name, lo, hi, opts[1:]...), nil
	case def.Digits:
		lo, hi := def.bounds(1, grammar.Unbounded)
		return en.DigitsRef(def.Name, lo, hi, opts[1:]...), nil
	case len(def.Choice) > 0:
		return compound.ChoiceEntries(def.Name, def.Choice, extras, opts[1:]...)
	case def.Spec != "":
		if def.Min == nil && def.Max == nil {
			return compound.New(def.Spec, extras, opts...)
		}
		child, err := compound.New(def.Spec, extras)
		if err != nil {
			return nil, err
		}
		lo, hi := def.bounds(1, grammar.Unbounded)
		return grammar.NewRepetition(child, lo, hi, opts...), nil
	}
	return nil, fmt.Errorf("element declares nothing to match")
}

func (def ElementDef) bounds(lo, hi int) (int, int) {
	if def.Min != nil {
		lo = *def.Min
	}
	if def.Max != nil {
		hi = *def.Max
	}
	return lo, hi
}

func (def RuleDef) build(extras []grammar.Element) (*grammar.Rule, error) {
	exported := def.Exported == nil || *def.Exported
	ruleOpts := []grammar.RuleOption{grammar.Exported(exported)}
	if def.Context != nil {
		ruleOpts = append(ruleOpts, grammar.WithRuleContext(def.Context.app()))
	}

	entries := []compound.Entry(def.Mapping)
	if def.Spec != "" {
		entries = []compound.Entry{{Spec: def.Spec, Value: def.Value}}
	}
	bound := make([]compound.Entry, len(entries))
	for i, e := range entries {
		if s, ok := e.Value.(string); ok {
			e.Value = compound.Template(s)
		}
		bound[i] = e
	}
	return compound.NewMappingRule(def.Name, bound,
		compound.WithExtras(extras...),
		compound.WithDefaults(def.Defaults),
		compound.WithRuleOptions(ruleOpts...),
	)
}
