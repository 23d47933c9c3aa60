// Package dictation turns recognized dictation tokens into formatted text.
package dictation

import (
	"strings"
)

// WordFlags describe how a word affects spacing and capitalization.
type WordFlags uint32

const (
	NoSpaceBefore WordFlags = 1 << iota
	NoSpaceAfter
	TwoSpacesAfter
	NoSpaceMode
	ResetNoSpace
	NoSpaceReset
	SpaceBar
	NoSpaceBetween
	NewlineAfter
	TwoNewlinesAfter
	CapNext
	CapNextForce
	LowerNext
	UpperNext
	CapMode
	LowerMode
	UpperMode
	ResetCap
	NoCapReset
	NoTitleCap
	NoFormat
	NotAfterPeriod
)

func (f WordFlags) Has(flag WordFlags) bool { return f&flag == flag }

// Word is one dictation token resolved against the directive table.
type Word struct {
	Written string
	Spoken  string
	Flags   WordFlags
}

type directive struct {
	written string
	flags   WordFlags
}

const (
	leftFlags  = NoCapReset | NoSpaceAfter
	rightFlags = NoCapReset | NoSpaceBefore | NoSpaceReset
	periodLike = TwoSpacesAfter | CapNext | NoSpaceBefore
)

// directives is keyed by property name or spoken form, lower case.
var directives = map[string]directive{
	"new-line":      {"", NoFormat | NoSpaceAfter | NoCapReset | NewlineAfter},
	"new-paragraph": {"", NoFormat | NoSpaceAfter | CapNext | TwoNewlinesAfter},
	"no-space":      {"", NoFormat | NoCapReset | NoSpaceAfter},
	"no-space-on":   {"", NoFormat | NoCapReset | NoSpaceMode},
	"no-space-off":  {"", NoFormat | NoCapReset | ResetNoSpace},
	"cap":           {"", NoFormat | NoSpaceReset | CapNextForce},
	"caps-on":       {"", NoFormat | NoSpaceReset | ResetCap | CapMode},
	"caps-off":      {"", NoFormat | NoSpaceReset | ResetCap},
	"all-caps":      {"", NoFormat | NoSpaceReset | UpperNext},
	"all-caps-on":   {"", NoFormat | NoSpaceReset | ResetCap | UpperMode},
	"all-caps-off":  {"", NoFormat | NoSpaceReset | ResetCap},
	"no-caps":       {"", NoFormat | NoSpaceReset | LowerNext},
	"no-caps-on":    {"", NoFormat | NoSpaceReset | ResetCap | LowerMode},
	"no-caps-off":   {"", NoFormat | NoSpaceReset | ResetCap},
	"space-bar":     {"", NoFormat | SpaceBar | NoSpaceAfter | NoCapReset | NoSpaceBefore},
	"spelling-cap":  {"", NoFormat | NoSpaceReset | CapNextForce},

	"letter":           {"", NoSpaceBetween},
	"uppercase-letter": {"", NoSpaceBetween},
	"numeral":          {"", NoSpaceAfter},

	"period":           {".", periodLike | NotAfterPeriod},
	"full-stop":        {".", periodLike | NotAfterPeriod},
	"question-mark":    {"?", periodLike},
	"exclamation-mark": {"!", periodLike},
	"point":            {".", NoSpaceAfter | NoSpaceBetween | NoSpaceBefore},
	"dot":              {".", NoSpaceAfter | NoSpaceBetween | NoSpaceBefore},
	"ellipsis":         {"...", NoSpaceBefore | NotAfterPeriod},
	"comma":            {",", NoSpaceBefore},
	"colon":            {":", NoSpaceBefore},
	"semicolon":        {";", NoSpaceBefore},
	"apostrophe-ess":   {"'s", NoSpaceBefore},
	"hyphen":           {"-", NoSpaceBefore | NoSpaceAfter},
	"dash":             {"--", NoSpaceBefore | NoSpaceAfter},
	"at-sign":          {"@", NoSpaceBefore | NoSpaceAfter},
	"slash":            {"/", NoSpaceBefore | NoSpaceAfter},
	"open-paren":       {"(", NoSpaceAfter},
	"close-paren":      {")", NoSpaceBefore},

	"left-paren":          {"(", leftFlags},
	"right-paren":         {")", rightFlags},
	"left-bracket":        {"[", leftFlags},
	"right-bracket":       {"]", rightFlags},
	"left-brace":          {"{", leftFlags},
	"right-brace":         {"}", rightFlags},
	"left-angle":          {"<", leftFlags},
	"right-angle":         {">", rightFlags},
	"left-quote":          {"\"", leftFlags},
	"right-quote":         {"\"", rightFlags},
	"left-single-quote":   {"'", leftFlags},
	"right-single-quote":  {"'", rightFlags},
	"left-double-quote":   {"\"", leftFlags},
	"right-double-quote":  {"\"", rightFlags},
	"left-angle-bracket":  {"<", leftFlags},
	"right-angle-bracket": {">", rightFlags},
}

// propertyOnly directives apply only when an engine token names them as
// its property. As plain words they are ordinary dictation.
var propertyOnly = map[string]bool{
	"letter":           true,
	"uppercase-letter": true,
	"numeral":          true,
	"point":            true,
	"dot":              true,
}

// lookupProperty resolves a property name. Unlisted left-/right- properties
// get the opening and closing punctuation flags.
func lookupProperty(key string) (directive, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return directive{}, false
	}
	if d, ok := directives[key]; ok {
		return d, true
	}
	switch {
	case strings.HasPrefix(key, "left-"):
		return directive{flags: leftFlags}, true
	case strings.HasPrefix(key, "right-"):
		return directive{flags: rightFlags}, true
	}
	return directive{}, false
}

// lookupSpoken resolves a spoken directive such as "period" or "caps-on".
// Only exact table entries match.
func lookupSpoken(key string) (directive, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || propertyOnly[key] {
		return directive{}, false
	}
	d, ok := directives[key]
	return d, ok
}

// ParseToken resolves a raw token. Tokens may be plain words, spoken
// directives such as "period", or engine tokens of the form
// written\property\spoken, written\spoken or X\letter. The boolean reports
// whether a property named by an engine token was unknown.
func ParseToken(token string) (Word, bool) {
	parts := strings.Split(token, `\`)
	switch len(parts) {
	case 1:
		w := Word{Written: token, Spoken: token}
		if d, ok := lookupSpoken(token); ok {
			w.Written = d.written
			w.Flags = d.flags
		}
		return w, false
	case 2:
		if strings.EqualFold(parts[1], "letter") {
			return resolve(parts[0], "letter", parts[0])
		}
		return resolve(parts[0], "", parts[1])
	case 3:
		return resolve(parts[0], parts[1], parts[2])
	default:
		n := len(parts)
		return resolve(strings.Join(parts[:n-2], `\`), parts[n-2], parts[n-1])
	}
}

func resolve(written, property, spoken string) (Word, bool) {
	if spoken == "" {
		spoken = written
	}
	w := Word{Written: written, Spoken: spoken}
	d, ok := lookupProperty(property)
	if !ok {
		d, ok = lookupSpoken(spoken)
	}
	if !ok {
		if w.Written == "" {
			w.Written = spoken
		}
		return w, property != ""
	}
	w.Flags = d.flags
	if w.Written == "" {
		w.Written = d.written
	}
	return w, false
}
