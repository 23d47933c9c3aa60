package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileWordsAndRules(t *testing.T) {
	t.Parallel()

	number := MustRule("number", NewAlternative([]Element{NewLiteral("One"), NewLiteral("two")}), Exported(false))
	press := MustRule("press", NewSequence([]Element{NewLiteral("Press"), NewRuleRef(number)}))

	compiled, err := Compile("keys", []*Rule{press})
	require.NoError(t, err)
	require.Equal(t, "keys", compiled.Name)
	require.Equal(t, []string{"one", "press", "two"}, compiled.Words)

	require.Len(t, compiled.Rules, 2)
	require.Equal(t, "press", compiled.Rules[0].Name)
	require.Equal(t, 1, compiled.Rules[0].ID)
	require.True(t, compiled.Rules[0].Exported)
	require.False(t, compiled.Rules[0].Imported)

	imported, ok := compiled.Rule("number")
	require.True(t, ok)
	require.Equal(t, 2, imported.ID)
	require.True(t, imported.Imported)
	require.False(t, imported.Exported)

	ref := compiled.Rules[0].Root.Children[1]
	require.Equal(t, KindRule, ref.Kind)
	require.Equal(t, 2, ref.Ref)
}

func TestCompileNodeIDsArePreOrder(t *testing.T) {
	t.Parallel()

	rule := MustRule("r", NewRepetition(NewLiteral("x"), 1, 3, WithOptimize(false)))
	compiled, err := Compile("g", []*Rule{rule})
	require.NoError(t, err)

	var ids []int
	var visit func(n CompiledNode)
	visit = func(n CompiledNode) {
		ids = append(ids, n.ID)
		for _, child := range n.Children {
			visit(child)
		}
	}
	visit(compiled.Rules[0].Root)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, ids)
}

func TestCompileRepetition(t *testing.T) {
	t.Parallel()

	optimized, err := Compile("g", []*Rule{MustRule("r", NewRepetition(NewLiteral("x"), 1, 3))})
	require.NoError(t, err)
	root := optimized.Rules[0].Root
	require.Equal(t, KindRepeat, root.Kind)
	require.Equal(t, 1, root.Min)
	require.Equal(t, 3, root.Max)

	expanded, err := Compile("g", []*Rule{MustRule("r", NewRepetition(NewLiteral("x"), 1, 3, WithOptimize(false)))})
	require.NoError(t, err)
	root = expanded.Rules[0].Root
	require.Equal(t, KindSequence, root.Kind)
	require.Len(t, root.Children, 2)
	require.Equal(t, KindWord, root.Children[0].Kind)
	chain := root.Children[1]
	require.Equal(t, KindOptional, chain.Kind)
	require.Equal(t, KindSequence, chain.Children[0].Kind)
	require.Equal(t, KindOptional, chain.Children[0].Children[1].Kind)

	open, err := Compile("g", []*Rule{MustRule("r", NewRepetition(NewLiteral("x"), 2, Unbounded, WithOptimize(false)))})
	require.NoError(t, err)
	root = open.Rules[0].Root
	require.Len(t, root.Children, 3)
	require.Equal(t, KindRepeat, root.Children[2].Kind)
	require.Equal(t, Unbounded, root.Children[2].Max)
}

func TestCompileUnknownRuleSuggestsName(t *testing.T) {
	t.Parallel()

	openFile := MustRule("open_file", NewLiteral("open file"))
	broken := MustRule("broken", NewSequence([]Element{NewLiteral("then"), NewRuleRefByName("open_fil")}))

	_, err := Compile("files", []*Rule{openFile, broken})
	var de *DefinitionError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "broken", de.Rule)
	require.Equal(t, "open_file", de.Suggestion)
	require.Contains(t, err.Error(), `did you mean "open_file"?`)
}

func TestCompileConflictingDefinitions(t *testing.T) {
	t.Parallel()

	a := MustRule("dup", NewLiteral("a"))
	b := MustRule("dup", NewLiteral("b"))
	_, err := Compile("g", []*Rule{a, b})
	var de *DefinitionError
	require.True(t, errors.As(err, &de))

	user := MustRule("user", NewRuleRef(b))
	_, err = Compile("g", []*Rule{a, user})
	require.True(t, errors.As(err, &de))
}

func TestCompileRejectsNonTerminatingRule(t *testing.T) {
	t.Parallel()

	loop := MustRule("loop", NewSequence([]Element{NewLiteral("a"), NewRuleRefByName("loop")}))
	_, err := Compile("g", []*Rule{loop})
	var de *DefinitionError
	require.True(t, errors.As(err, &de))
	require.Contains(t, de.Reason, "without a terminating alternative")
}

func TestCompileSnapshotsLists(t *testing.T) {
	t.Parallel()

	fruit := NewList("fruit", "apple", "star fruit")
	rule := MustRule("eat", NewSequence([]Element{NewLiteral("eat"), NewListRef(fruit)}))
	compiled, err := Compile("g", []*Rule{rule})
	require.NoError(t, err)
	require.Equal(t, []CompiledList{{ID: 1, Name: "fruit", Items: []string{"apple", "star fruit"}}}, compiled.Lists)

	fruit.Append("kiwi")
	require.Len(t, compiled.Lists[0].Items, 2, "compiled output is immutable")
}

func TestNewRuleRejectsInvalidElements(t *testing.T) {
	t.Parallel()

	cases := map[string]Element{
		"empty literal":    NewLiteral("   "),
		"nil child":        NewSequence([]Element{NewLiteral("a"), nil}),
		"empty choice":     NewAlternative(nil),
		"negative min":     NewRepetition(NewLiteral("a"), -1, 2),
		"min above max":    NewRepetition(NewLiteral("a"), 3, 2),
		"nil list":         NewListRef(nil),
		"nil modifier":     NewModifier(NewLiteral("a"), nil),
		"blank rule ref":   NewRuleRefByName(" "),
		"nested bad child": NewOptional(NewSequence([]Element{NewWords(nil)})),
	}
	for name, el := range cases {
		_, err := NewRule("r", el)
		var de *DefinitionError
		require.True(t, errors.As(err, &de), name)
		require.Equal(t, "r", de.Rule, name)
	}

	_, err := NewRule("", NewLiteral("a"))
	require.Error(t, err)
	_, err = NewRule("r", nil)
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	colors := NewList("colors", "red", "green")
	build := func() *CompiledGrammar {
		rule := MustRule("paint", NewSequence([]Element{NewLiteral("paint"), NewListRef(colors)}))
		compiled, err := Compile("g", []*Rule{rule})
		require.NoError(t, err)
		return compiled
	}

	first, err := build().Fingerprint()
	require.NoError(t, err)
	second, err := build().Fingerprint()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)

	colors.Append("blue")
	third, err := build().Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestCompiledGrammarBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	rule := MustRule("r", NewSequence([]Element{NewLiteral("go"), NewRepetition(NewLiteral("up"), 1, Unbounded)}))
	compiled, err := Compile("g", []*Rule{rule})
	require.NoError(t, err)

	data, err := compiled.MarshalBinary()
	require.NoError(t, err)
	var decoded CompiledGrammar
	require.NoError(t, decoded.UnmarshalBinary(data))

	want, err := compiled.Fingerprint()
	require.NoError(t, err)
	got, err := decoded.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, Unbounded, decoded.Rules[0].Root.Children[1].Max)
}
