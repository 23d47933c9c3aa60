package compound

import (
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokWord
	tokLSquare // [
	tokRSquare // ]
	tokLParen  // (
	tokRParen  // )
	tokLAngle  // <
	tokRAngle  // >
	tokPipe    // |
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of spec"
	case tokWord:
		return "word"
	case tokLSquare:
		return `"["`
	case tokRSquare:
		return `"]"`
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	case tokLAngle:
		return `"<"`
	case tokRAngle:
		return `">"`
	case tokPipe:
		return `"|"`
	}
	return "unknown"
}

type token struct {
	typ  tokenType
	text string
	pos  int
}

var punctuation = map[rune]tokenType{
	'[': tokLSquare,
	']': tokRSquare,
	'(': tokLParen,
	')': tokRParen,
	'<': tokLAngle,
	'>': tokRAngle,
	'|': tokPipe,
}

// lex splits a spec into tokens. A word is any run of characters that are
// neither whitespace nor punctuation.
func lex(spec string) []token {
	var tokens []token
	for pos := 0; pos < len(spec); {
		r, size := utf8.DecodeRuneInString(spec[pos:])
		if unicode.IsSpace(r) {
			pos += size
			continue
		}
		if typ, ok := punctuation[r]; ok {
			tokens = append(tokens, token{typ: typ, text: string(r), pos: pos})
			pos += size
			continue
		}
		start := pos
		for pos < len(spec) {
			r, size = utf8.DecodeRuneInString(spec[pos:])
			if _, ok := punctuation[r]; ok || unicode.IsSpace(r) {
				break
			}
			pos += size
		}
		tokens = append(tokens, token{typ: tokWord, text: spec[start:pos], pos: start})
	}
	return append(tokens, token{typ: tokEOF, pos: len(spec)})
}
