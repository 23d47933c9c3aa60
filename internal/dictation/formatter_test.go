package dictation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tokens string
		opts   Options
		want   string
	}{
		{name: "empty", tokens: "", want: ""},
		{name: "plain words", tokens: "hello world", want: "hello world"},
		{name: "caps mode", tokens: "Caps-On hello world Caps-Off goodbye universe", want: "Hello World goodbye universe"},
		{name: "no space", tokens: "hello No-Space world", want: "helloworld"},
		{name: "no space mode", tokens: "a No-Space-On b c No-Space-Off d", want: "abc d"},
		{name: "period after abbreviation", tokens: "etc. full-stop next", want: "etc. Next"},
		{name: "sentence", tokens: `hello .\period\period world`, want: "hello. World"},
		{name: "two spaces", tokens: "hello period world", opts: Options{TwoSpacesAfterPeriod: true}, want: "hello.  World"},
		{name: "comma", tokens: `one ,\comma\comma two`, want: "one, two"},
		{name: "letters", tokens: `a\letter b\letter c\letter`, want: "abc"},
		{name: "cap next", tokens: "Cap hello world", want: "Hello world"},
		{name: "all caps next", tokens: "all-caps hello world", want: "HELLO world"},
		{name: "all caps mode", tokens: "all-caps-on hello world all-caps-off bye", want: "HELLO WORLD bye"},
		{name: "new line", tokens: "hello new-line world", want: "hello\nworld"},
		{name: "new paragraph", tokens: "hello new-paragraph world", want: "hello\n\nWorld"},
		{name: "space bar", tokens: "hello space-bar world", want: "hello world"},
		{name: "parens", tokens: "say left-paren this right-paren now", want: "say (this) now"},
		{name: "hyphen", tokens: "well hyphen known", want: "well-known"},
		{name: "plain point", tokens: "make a point here", want: "make a point here"},
		{name: "plain letter", tokens: "write a letter now", want: "write a letter now"},
		{name: "plain numeral", tokens: "pick a numeral please", want: "pick a numeral please"},
		{name: "plain dot", tokens: "connect the dot", want: "connect the dot"},
		{name: "plain left prefix", tokens: "a left-handed pitcher", want: "a left-handed pitcher"},
		{name: "cap next lowers rest", tokens: "Cap wORLD", want: "World"},
		{name: "lower mode beats cap next", tokens: "no-caps-on hello period next", want: "hello. next"},
		{name: "upper mode beats cap next", tokens: "all-caps-on hello period next", want: "HELLO. NEXT"},
		{name: "as spoken", tokens: `hello .\period\period`, opts: Options{AsSpoken: true}, want: "hello period"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Format(strings.Fields(tc.tokens), tc.opts))
		})
	}
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	w, unknown := ParseToken(`.\period\period`)
	require.False(t, unknown)
	require.Equal(t, ".", w.Written)
	require.Equal(t, "period", w.Spoken)
	require.True(t, w.Flags.Has(CapNext))

	w, unknown = ParseToken(`\Cap`)
	require.False(t, unknown)
	require.Empty(t, w.Written)
	require.True(t, w.Flags.Has(CapNextForce))

	w, unknown = ParseToken(`x\frobnicate\ex`)
	require.True(t, unknown)
	require.Equal(t, "x", w.Written)
	require.Equal(t, "ex", w.Spoken)
	require.Zero(t, w.Flags)

	w, unknown = ParseToken(`x\letter`)
	require.False(t, unknown)
	require.Equal(t, "x", w.Written)
	require.Equal(t, "x", w.Spoken)
	require.True(t, w.Flags.Has(NoSpaceBetween))

	w, unknown = ParseToken(`hi\period`)
	require.False(t, unknown)
	require.Equal(t, "hi", w.Written)
	require.Equal(t, "period", w.Spoken)
	require.True(t, w.Flags.Has(CapNext))

	for _, plain := range []string{"point", "letter", "uppercase-letter", "numeral", "dot"} {
		w, unknown = ParseToken(plain)
		require.False(t, unknown)
		require.Equal(t, Word{Written: plain, Spoken: plain}, w, plain)
	}

	w, unknown = ParseToken("hello")
	require.False(t, unknown)
	require.Equal(t, Word{Written: "hello", Spoken: "hello"}, w)
}

func TestStepCarriesModes(t *testing.T) {
	t.Parallel()

	f := NewFormatter(Options{}, nil)
	state, out := f.Step(InitialState(), Word{Flags: NoFormat | NoSpaceReset | ResetCap | CapMode})
	require.Empty(t, out)
	require.True(t, state.CapMode)
	require.True(t, state.NoSpaceBefore)

	state, out = f.Step(state, Word{Written: "foo bar", Spoken: "foo bar"})
	require.Equal(t, "Foo Bar", out)
	require.True(t, state.CapMode)
	require.False(t, state.CapNext)
}

func TestWords(t *testing.T) {
	t.Parallel()

	tokens := []string{"hello", `.\period\period`, "Cap", "world"}
	require.Equal(t, []string{"hello", ".", "world"}, Words(tokens, false))
	require.Equal(t, []string{"hello", "period", "Cap", "world"}, Words(tokens, true))
}

func TestText(t *testing.T) {
	t.Parallel()

	tokens := []string{"hello", "period", "world"}
	text := NewText(tokens)
	tokens[0] = "changed"

	require.Equal(t, "hello. World", text.String())
	require.Equal(t, "hello period world", text.Format(Options{AsSpoken: true}))
	require.False(t, text.Empty())
	require.True(t, NewText(nil).Empty())
}
