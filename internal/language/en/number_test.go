package en

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

func decodeInt(t *testing.T, el grammar.Element, spoken string) (any, bool) {
	t.Helper()
	rule := grammar.MustRule("number", el)
	res, ok := grammar.Decode(rule, strings.Fields(spoken))
	if !ok {
		return nil, false
	}
	return res.Extras["n"], true
}

func TestIntegerRef(t *testing.T) {
	t.Parallel()

	el := IntegerRef("n", 0, 1000000000000)
	cases := []struct {
		spoken string
		want   int
	}{
		{"zero", 0},
		{"oh", 0},
		{"one", 1},
		{"to", 2},
		{"too", 2},
		{"nine", 9},
		{"ten", 10},
		{"nineteen", 19},
		{"twenty", 20},
		{"forty two", 42},
		{"hundred", 100},
		{"one hundred and six", 106},
		{"seventy four hundred", 7400},
		{"seventy four thousand", 74000},
		{"two hundred and thirty four thousand five hundred sixty seven", 234567},
		{"three million two hundred thousand", 3200000},
	}
	for _, tc := range cases {
		t.Run(tc.spoken, func(t *testing.T) {
			t.Parallel()
			got, ok := decodeInt(t, el, tc.spoken)
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestIntegerRefLimits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		min, max int
		spoken   string
		want     int
		ok       bool
	}{
		{3, 14, "two", 0, false},
		{3, 14, "three", 3, true},
		{3, 14, "thirteen", 13, true},
		{3, 14, "fourteen", 0, false},
		{23, 47, "twenty two", 0, false},
		{23, 47, "forty six", 46, true},
		{23, 47, "forty seven", 0, false},
		{230, 350, "two hundred and thirty", 230, true},
		{230, 350, "two hundred and thirty zero", 0, false},
		{230, 350, "three hundred forty nine", 349, true},
		{230, 350, "three hundred fifty", 0, false},
		{230, 352, "three hundred fifty one", 351, true},
	}
	for _, tc := range cases {
		got, ok := decodeInt(t, IntegerRef("n", tc.min, tc.max), tc.spoken)
		require.Equal(t, tc.ok, ok, "%q in [%d, %d)", tc.spoken, tc.min, tc.max)
		if tc.ok {
			require.Equal(t, tc.want, got)
		}
	}
}

func TestIntegerRefInSequence(t *testing.T) {
	t.Parallel()

	rule := grammar.MustRule("lines", grammar.NewSequence([]grammar.Element{
		grammar.NewLiteral("go to line"),
		IntegerRef("line", 1, 10000),
	}))
	res, ok := grammar.Decode(rule, strings.Fields("go to line twelve hundred and five"))
	require.True(t, ok)
	require.Equal(t, 1205, res.Extras["line"])

	compiled, err := grammar.Compile("lines", []*grammar.Rule{rule})
	require.NoError(t, err)
	require.Contains(t, compiled.Words, "hundred")
	require.Contains(t, compiled.Words, "twelve")
}

func TestDigitsRef(t *testing.T) {
	t.Parallel()

	el := DigitsRef("n", 1, grammar.Unbounded)
	got, ok := decodeInt(t, el, "four oh seven")
	require.True(t, ok)
	require.Equal(t, []int{4, 0, 7}, got)

	_, ok = decodeInt(t, DigitsRef("n", 1, 2), "one two three")
	require.False(t, ok)
}
