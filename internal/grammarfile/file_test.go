package grammarfile

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

const editorYAML = `grammar: editor
context:
  executable: code
lists:
  files: [readme, main go]
dict_lists:
  colors:
    red: "#f00"
    dark blue: "#00008b"
elements:
  - name: file
    list: files
  - name: color
    dict_list: colors
  - name: n
    choice:
      one: 1
      two: 2
      three: 3
  - name: digits
    spec: one | two | three
    min: 1
    max: 3
  - name: text
    dictation: true
rules:
  - name: open
    mapping:
      "open <file>": "open {file}"
      "paint <color>": "paint {color}"
      "down [<n>]": "down {n}"
    defaults:
      n: 1
  - name: number
    exported: false
    spec: "<digits>"
  - name: go_line
    spec: "go to line <number>"
    value: line
  - name: say
    context:
      title: notes
    spec: "say <text>"
`

func newEngine(t *testing.T, yaml string) *engine.Engine {
	t.Helper()
	f, err := Parse([]byte(yaml))
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)
	e := engine.New(engine.WithWindowSource(engine.StaticWindow{Executable: "code", Title: "notes.txt"}))
	require.NoError(t, e.Register(g))
	return e
}

func TestParseAndBuild(t *testing.T) {
	t.Parallel()

	e := newEngine(t, editorYAML)
	tests := []struct {
		words []string
		rule  string
		value any
	}{
		{[]string{"open", "main", "go"}, "open", "open main go"},
		{[]string{"paint", "dark", "blue"}, "open", "paint #00008b"},
		{[]string{"down", "three"}, "open", "down 3"},
		{[]string{"down"}, "open", "down 1"},
		{[]string{"go", "to", "line", "two", "one"}, "go_line", "line"},
	}
	for _, tt := range tests {
		res, err := e.Mimic(context.Background(), tt.words...)
		require.NoError(t, err, tt.words)
		rec := res.Recognition()
		require.Equal(t, tt.rule, rec.Rule, tt.words)
		require.Equal(t, tt.value, rec.Value, tt.words)
	}

	res, err := e.Mimic(context.Background(), "say", "hello", "period")
	require.NoError(t, err)
	require.Equal(t, "hello.", res.Recognition().Extras.String("text"))

	// Non-exported rules are only reachable through references.
	_, err = e.Mimic(context.Background(), "two")
	require.ErrorIs(t, err, engine.ErrMimicFailure)
}

func TestListsAreReachableByName(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(editorYAML))
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)
	require.NotNil(t, g.List("files"))
	require.NotNil(t, g.DictList("colors"))
	require.Nil(t, g.List("colors"))
	require.Equal(t, []string{"readme", "main go"}, g.List("files").Items())
}

func TestMappingKeepsFileOrder(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(editorYAML))
	require.NoError(t, err)
	var specs []string
	for _, e := range f.Rules[0].Mapping {
		specs = append(specs, e.Spec)
	}
	require.Equal(t, []string{"open <file>", "paint <color>", "down [<n>]"}, specs)
}

func TestParseDecodesElements(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(editorYAML))
	require.NoError(t, err)
	one, three := 1, 3
	want := []ElementDef{
		{Name: "file", List: "files"},
		{Name: "color", DictList: "colors"},
		{Name: "n", Choice: Mapping{{Spec: "one", Value: 1}, {Spec: "two", Value: 2}, {Spec: "three", Value: 3}}},
		{Name: "digits", Spec: "one | two | three", Min: &one, Max: &three},
		{Name: "text", Dictation: true},
	}
	if diff := cmp.Diff(want, f.Elements); diff != "" {
		t.Fatalf("elements mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, &Context{Executable: "code"}, f.Context)
	require.Equal(t, map[string]any{"n": 1}, f.Rules[0].Defaults)
}

const numbersYAML = `grammar: numbers
elements:
  - {name: line, integer: true, min: 1, max: 10000}
  - {name: pin, digits: true, min: 4, max: 4}
rules:
  - {name: go_line, spec: "go to line <line>", value: line}
  - {name: unlock, spec: "unlock <pin>"}
`

func TestBuildNumberElements(t *testing.T) {
	t.Parallel()

	e := newEngine(t, numbersYAML)
	res, err := e.Mimic(context.Background(), "go", "to", "line", "twelve", "hundred", "and", "five")
	require.NoError(t, err)
	require.Equal(t, 1205, res.Recognition().Extras["line"])

	res, err = e.Mimic(context.Background(), "unlock", "one", "oh", "two", "four")
	require.NoError(t, err)
	require.Equal(t, []int{1, 0, 2, 4}, res.Recognition().Extras["pin"])

	_, err = e.Mimic(context.Background(), "go", "to", "line", "zero")
	require.ErrorIs(t, err, engine.ErrMimicFailure)

	_, err = e.Mimic(context.Background(), "unlock", "one", "two")
	require.ErrorIs(t, err, engine.ErrMimicFailure)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":          ``,
		"missing rules":  "grammar: g\n",
		"no rules":       "grammar: g\nrules: []\n",
		"unknown key":    "grammar: g\nflavour: x\nrules:\n  - {name: r, spec: hi}\n",
		"spec and map":   "grammar: g\nrules:\n  - name: r\n    spec: hi\n    mapping: {hi: x}\n",
		"neither":        "grammar: g\nrules:\n  - name: r\n",
		"bad rule name":  "grammar: g\nrules:\n  - {name: 'two words', spec: hi}\n",
		"bad grammar":    "grammar: '9lives'\nrules:\n  - {name: r, spec: hi}\n",
		"duplicate rule": "grammar: g\nrules:\n  - {name: r, spec: hi}\n  - {name: r, spec: bye}\n",
		"element twice":  "grammar: g\nelements:\n  - {name: x, spec: a, dictation: true}\nrules:\n  - {name: r, spec: hi}\n",
		"not yaml":       "grammar: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestBuildRejectsBadReferences(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown list":    "grammar: g\nelements:\n  - {name: x, list: nope}\nrules:\n  - {name: r, spec: '<x>'}\n",
		"unknown extra":   "grammar: g\nrules:\n  - {name: r, spec: 'open <flie>'}\n",
		"later rule":      "grammar: g\nrules:\n  - {name: a, spec: '<b>'}\n  - {name: b, spec: hi}\n",
		"bad repetition":  "grammar: g\nelements:\n  - {name: x, spec: a, min: 3, max: 1}\nrules:\n  - {name: r, spec: '<x>'}\n",
		"empty integer":   "grammar: g\nelements:\n  - {name: x, integer: true, min: 5, max: 5}\nrules:\n  - {name: r, spec: '<x>'}\n",
		"broken compound": "grammar: g\nrules:\n  - {name: r, spec: 'open [file'}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, err := Parse([]byte(doc))
			require.NoError(t, err)
			g, err := f.Build()
			if err == nil {
				_, err = g.Compile()
			}
			require.Error(t, err)
		})
	}
}

func TestUnknownExtraSuggestsName(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte("grammar: g\nelements:\n  - {name: file, dictation: true}\nrules:\n  - {name: r, spec: 'open <flie>'}\n"))
	require.NoError(t, err)
	_, err = f.Build()
	var de *grammar.DefinitionError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "file", de.Suggestion)
	require.Equal(t, "r", de.Rule)
}
