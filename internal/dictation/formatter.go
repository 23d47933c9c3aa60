package dictation

import (
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State is the formatter's state between two words. Mode fields persist
// until toggled off; Next fields apply to the following word only.
type State struct {
	NoSpaceBefore     bool
	TwoSpacesBefore   bool
	NoSpaceBetween    bool
	NoSpaceMode       bool
	CapNext           bool
	CapNextForce      bool
	LowerNext         bool
	UpperNext         bool
	CapMode           bool
	LowerMode         bool
	UpperMode         bool
	PrevEndedInPeriod bool
}

// InitialState suppresses the space before the first word.
func InitialState() State {
	return State{NoSpaceBefore: true}
}

// Options select the output of Format.
type Options struct {
	// AsSpoken emits the spoken forms joined by single spaces, unformatted.
	AsSpoken bool
	// TwoSpacesAfterPeriod separates sentences with two spaces.
	TwoSpacesAfterPeriod bool
}

// Formatter folds words through State. A Formatter holds no per-call state
// and may be shared.
type Formatter struct {
	opts  Options
	log   *slog.Logger
	title cases.Caser
	upper cases.Caser
	lower cases.Caser
}

func NewFormatter(opts Options, log *slog.Logger) *Formatter {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Formatter{
		opts:  opts,
		log:   log,
		title: cases.Title(language.Und, cases.NoLower),
		upper: cases.Upper(language.Und),
		lower: cases.Lower(language.Und),
	}
}

// Format formats tokens with a fresh state.
func Format(tokens []string, opts Options) string {
	return NewFormatter(opts, nil).Format(tokens)
}

// Words returns the written forms, or the spoken forms when asSpoken is set,
// without any formatting. Directives with no written form are dropped from
// the written list.
func Words(tokens []string, asSpoken bool) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		w, _ := ParseToken(token)
		if asSpoken {
			out = append(out, w.Spoken)
			continue
		}
		if w.Written != "" {
			out = append(out, w.Written)
		}
	}
	return out
}

func (f *Formatter) Format(tokens []string) string {
	if f.opts.AsSpoken {
		return strings.Join(Words(tokens, true), " ")
	}
	var b strings.Builder
	state := InitialState()
	for _, token := range tokens {
		w, unknown := ParseToken(token)
		if unknown {
			f.log.Warn("unknown dictation word property", slog.String("token", token))
		}
		var out string
		state, out = f.Step(state, w)
		b.WriteString(out)
	}
	return b.String()
}

// Step formats one word and returns the state for the next one.
func (f *Formatter) Step(state State, w Word) (State, string) {
	return f.update(state, w), f.apply(state, w)
}

func (f *Formatter) apply(s State, w Word) string {
	var prefix string
	switch {
	case w.Flags.Has(NoFormat), s.NoSpaceMode, w.Flags.Has(NoSpaceBefore), s.NoSpaceBefore:
	case s.NoSpaceBetween && w.Flags.Has(NoSpaceBetween):
	case s.TwoSpacesBefore && f.opts.TwoSpacesAfterPeriod:
		prefix = "  "
	default:
		prefix = " "
	}

	written := w.Written
	if !w.Flags.Has(NoFormat) {
		written = f.capitalize(s, w, written)
	}
	if s.PrevEndedInPeriod && w.Flags.Has(NotAfterPeriod) && strings.HasPrefix(written, ".") {
		written = written[1:]
	}

	var suffix string
	switch {
	case w.Flags.Has(TwoNewlinesAfter):
		suffix = "\n\n"
	case w.Flags.Has(NewlineAfter):
		suffix = "\n"
	case w.Flags.Has(SpaceBar):
		suffix = " "
	}
	if written == "" && prefix != "" && suffix == "" {
		prefix = ""
	}
	return prefix + written + suffix
}

// capitalize applies the first matching rule only: modes win over the
// one-shot flags.
func (f *Formatter) capitalize(s State, w Word, written string) string {
	switch {
	case s.CapMode && !w.Flags.Has(NoTitleCap):
		return f.title.String(written)
	case s.UpperMode:
		return f.upper.String(written)
	case s.LowerMode:
		return f.lower.String(written)
	case s.CapNext, s.CapNextForce:
		return f.capitalizeFirst(written)
	case s.UpperNext:
		return f.mapFirstWord(written, f.upper)
	case s.LowerNext:
		return f.mapFirstWord(written, f.lower)
	}
	return written
}

// capitalizeFirst upper-cases the first rune and lower-cases the rest.
func (f *Formatter) capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return f.upper.String(string(r)) + f.lower.String(s[size:])
}

func (f *Formatter) mapFirstWord(s string, c cases.Caser) string {
	first, rest, found := strings.Cut(s, " ")
	if !found {
		return c.String(s)
	}
	return c.String(first) + " " + rest
}

func (f *Formatter) update(p State, w Word) State {
	has := w.Flags.Has
	written := w.Written
	return State{
		CapNextForce: has(CapNextForce) || (has(NoCapReset) && p.CapNextForce),
		CapNext:      has(CapNext) || has(CapMode) || (has(NoCapReset) && p.CapNext),
		UpperNext:    has(UpperNext) || (has(NoCapReset) && p.UpperNext),
		LowerNext:    has(LowerNext) || (has(NoCapReset) && p.LowerNext),

		CapMode:   has(CapMode) || (p.CapMode && !has(ResetCap)),
		UpperMode: has(UpperMode) || (p.UpperMode && !has(ResetCap)),
		LowerMode: has(LowerMode) || (p.LowerMode && !has(ResetCap)),

		NoSpaceBefore:   has(NoSpaceAfter) || (p.NoSpaceBefore && has(NoSpaceReset) && has(NoFormat)),
		TwoSpacesBefore: has(TwoSpacesAfter) || (p.TwoSpacesBefore && has(NoSpaceReset) && has(NoFormat)),
		NoSpaceBetween:  has(NoSpaceBetween),
		NoSpaceMode:     has(NoSpaceMode) || (p.NoSpaceMode && !has(ResetNoSpace)),

		PrevEndedInPeriod: strings.HasSuffix(written, "."),
	}
}
