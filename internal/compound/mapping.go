package compound

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// Binder is implemented by mapping values that need the recognition's
// extras before use.
type Binder interface {
	Bind(extras grammar.Extras) any
}

// Template is a mapping value whose {name} placeholders are replaced with
// the matching extras when bound.
type Template string

func (t Template) Bind(extras grammar.Extras) any {
	s := string(t)
	if !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, len(extras)*2)
	for name, v := range extras {
		text := extras.String(name)
		if text == "" && v != nil {
			text = fmt.Sprint(v)
		}
		pairs = append(pairs, "{"+name+"}", text)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// MappingFunc receives the bound value of the matched spec together with
// the extras, defaults filled in.
type MappingFunc func(value any, extras grammar.Extras) error

// RuleOption configures NewMappingRule.
type RuleOption func(*mappingConfig)

type mappingConfig struct {
	extras   []grammar.Element
	defaults map[string]any
	ruleOpts []grammar.RuleOption
	fn       MappingFunc
}

// WithExtras supplies the elements referenced as <name> from the specs.
func WithExtras(elements ...grammar.Element) RuleOption {
	return func(c *mappingConfig) { c.extras = append(c.extras, elements...) }
}

// WithDefaults supplies values for extras that did not take part in a match.
func WithDefaults(defaults map[string]any) RuleOption {
	return func(c *mappingConfig) { c.defaults = defaults }
}

// WithRuleOptions passes options through to the underlying rule.
func WithRuleOptions(opts ...grammar.RuleOption) RuleOption {
	return func(c *mappingConfig) { c.ruleOpts = append(c.ruleOpts, opts...) }
}

// OnMatch sets the function run for each recognition.
func OnMatch(fn MappingFunc) RuleOption {
	return func(c *mappingConfig) { c.fn = fn }
}

// NewMappingRule builds a rule matching any spec in entries. The rule's value
// is the matched entry's value, bound to the extras when it is a Binder.
func NewMappingRule(name string, entries []Entry, opts ...RuleOption) (*grammar.Rule, error) {
	var cfg mappingConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	byName, err := extrasByName(cfg.extras)
	if err != nil {
		return nil, withRule(err, name)
	}
	children, err := entryElements(entries, byName)
	if err != nil {
		return nil, withRule(err, name)
	}

	defaults := make(map[string]any, len(cfg.defaults))
	for k, v := range cfg.defaults {
		defaults[k] = v
	}
	fn := cfg.fn
	callback := func(rec *grammar.Recognition) error {
		extras := make(grammar.Extras, len(defaults)+len(rec.Extras))
		for k, v := range defaults {
			extras[k] = v
		}
		for k, v := range rec.Extras {
			extras[k] = v
		}
		value := rec.Value
		if b, ok := value.(Binder); ok {
			value = b.Bind(extras)
		}
		rec.Value, rec.Extras = value, extras
		if fn == nil {
			return nil
		}
		return fn(value, extras)
	}

	ruleOpts := append([]grammar.RuleOption{grammar.OnRecognize(callback)}, cfg.ruleOpts...)
	return grammar.NewRule(name, grammar.NewAlternative(children), ruleOpts...)
}

// MappingRule is NewMappingRule over a map; specs are tried in sorted order.
func MappingRule(name string, mapping map[string]any, opts ...RuleOption) (*grammar.Rule, error) {
	return NewMappingRule(name, Entries(mapping), opts...)
}

func withRule(err error, rule string) error {
	var de *grammar.DefinitionError
	if errors.As(err, &de) && de.Rule == "" {
		de.Rule = rule
	}
	return err
}
