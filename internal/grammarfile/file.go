// Package grammarfile loads grammars declared in YAML files.
//
// A file declares one grammar:
//
//	grammar: editor
//	context: {executable: code}
//	lists:
//	  files: [readme, main go]
//	elements:
//	  - {name: file, list: files}
//	  - {name: text, dictation: true}
//	rules:
//	  - name: open
//	    mapping:
//	      "open <file>": "open {file}"
//	      "type <text>": "type {text}"
//
// Specs use the compound syntax. Elements and earlier rules may be
// referenced as <name>. String mapping values are templates bound to the
// recognition's extras.
package grammarfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grafana/regexp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-grammar/internal/compound"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "schema://grammarfile.json"

var (
	schema      = mustCompileSchema()
	namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
		panic(fmt.Sprintf("grammarfile: add schema: %v", err))
	}
	return compiler.MustCompile(schemaURL)
}

// File is one parsed grammar file.
type File struct {
	Grammar   string                       `yaml:"grammar"`
	Enabled   *bool                        `yaml:"enabled"`
	Exclusive bool                         `yaml:"exclusive"`
	Context   *Context                     `yaml:"context"`
	Lists     map[string][]string          `yaml:"lists"`
	DictLists map[string]map[string]string `yaml:"dict_lists"`
	Elements  []ElementDef                 `yaml:"elements"`
	Rules     []RuleDef                    `yaml:"rules"`

	// Path is where the file was loaded from, empty for Parse.
	Path string `yaml:"-"`
}

type Context struct {
	Executable string `yaml:"executable"`
	Title      string `yaml:"title"`
	Exclude    bool   `yaml:"exclude"`
}

// ElementDef declares a named element. Exactly one of List, DictList,
// Dictation, Integer, Digits, Spec or Choice is set. Min and Max repeat a
// Spec, bound an Integer's value (max exclusive) or bound the number of
// Digits.
type ElementDef struct {
	Name      string  `yaml:"name"`
	List      string  `yaml:"list"`
	DictList  string  `yaml:"dict_list"`
	Dictation bool    `yaml:"dictation"`
	Integer   bool    `yaml:"integer"`
	Digits    bool    `yaml:"digits"`
	Spec      string  `yaml:"spec"`
	Choice    Mapping `yaml:"choice"`
	Min       *int    `yaml:"min"`
	Max       *int    `yaml:"max"`
	Default   any     `yaml:"default"`
}

// RuleDef declares a rule from either a single Spec with an optional Value
// or a Mapping of specs to values.
type RuleDef struct {
	Name     string         `yaml:"name"`
	Exported *bool          `yaml:"exported"`
	Context  *Context       `yaml:"context"`
	Spec     string         `yaml:"spec"`
	Value    any            `yaml:"value"`
	Mapping  Mapping        `yaml:"mapping"`
	Defaults map[string]any `yaml:"defaults"`
}

// Mapping keeps spec/value pairs in file order.
type Mapping []compound.Entry

func (m *Mapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of specs to values", node.Line)
	}
	out := make(Mapping, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var value any
		if err := val.Decode(&value); err != nil {
			return fmt.Errorf("line %d: %w", val.Line, err)
		}
		out = append(out, compound.Entry{Spec: key.Value, Value: value})
	}
	*m = out
	return nil
}

// Load reads and validates a grammar file from disk.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	f.Path = path
	return f, nil
}

// Parse checks data against the grammar file schema and decodes it.
func Parse(data []byte) (File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return File{}, fmt.Errorf("parse yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return File{}, fmt.Errorf("grammar file is not a JSON-compatible document: %w", err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return File{}, err
	}
	if err := schema.Validate(instance); err != nil {
		return File{}, fmt.Errorf("invalid grammar file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode grammar file: %w", err)
	}
	if err := Validate(f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks the names used in f.
func Validate(f File) error {
	if !namePattern.MatchString(f.Grammar) {
		return fmt.Errorf("grammar name %q is not a valid identifier", f.Grammar)
	}
	seen := make(map[string]string)
	claim := func(kind, name string) error {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("%s name %q is not a valid identifier", kind, name)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s name %q already used by a %s", kind, name, prev)
		}
		seen[name] = kind
		return nil
	}
	for name := range f.Lists {
		if err := claim("list", name); err != nil {
			return err
		}
	}
	for name := range f.DictLists {
		if err := claim("dict list", name); err != nil {
			return err
		}
	}
	// Lists live in their own namespace from elements and rules.
	seen = make(map[string]string)
	for _, el := range f.Elements {
		if err := claim("element", el.Name); err != nil {
			return err
		}
	}
	for _, r := range f.Rules {
		if err := claim("rule", r.Name); err != nil {
			return err
		}
	}
	return nil
}
