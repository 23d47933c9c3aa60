// Package compound builds element trees from compact spec strings such as
// "open <app> [please]" and offers the Choice and mapping rule helpers built
// on them.
//
// Spec syntax:
//
//	alternative := sequence ("|" sequence)*
//	sequence    := single+
//	single      := WORD+ | "<" WORD ">" | "[" alternative "]" | "(" alternative ")"
package compound

import (
	"fmt"
	"slices"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// SyntaxError reports a malformed spec string.
type SyntaxError struct {
	Spec   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("compound spec %q: %s at offset %d", e.Spec, e.Msg, e.Offset)
}

// Parse turns spec into an element tree. Each <name> reference is replaced
// by the element in extras with that name.
func Parse(spec string, extras map[string]grammar.Element) (grammar.Element, error) {
	p := &parser{spec: spec, tokens: lex(spec), extras: extras}
	el, err := p.alternative()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.typ)
	}
	return el, nil
}

type parser struct {
	spec   string
	tokens []token
	pos    int
	extras map[string]grammar.Element
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ tokenType) (token, error) {
	tok := p.next()
	if tok.typ != typ {
		return tok, p.errorf(tok, "expected %s, found %s", typ, tok.typ)
	}
	return tok, nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Spec: p.spec, Offset: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) alternative() (grammar.Element, error) {
	var choices []grammar.Element
	for {
		seq, err := p.sequence()
		if err != nil {
			return nil, err
		}
		choices = append(choices, seq)
		if p.peek().typ != tokPipe {
			break
		}
		p.next()
	}
	if len(choices) == 1 {
		return choices[0], nil
	}
	return grammar.NewAlternative(choices), nil
}

func (p *parser) sequence() (grammar.Element, error) {
	var items []grammar.Element
	for {
		switch p.peek().typ {
		case tokWord, tokLAngle, tokLSquare, tokLParen:
			item, err := p.single()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			continue
		}
		break
	}
	switch len(items) {
	case 0:
		tok := p.peek()
		return nil, p.errorf(tok, "expected words before %s", tok.typ)
	case 1:
		return items[0], nil
	}
	return grammar.NewSequence(items), nil
}

func (p *parser) single() (grammar.Element, error) {
	tok := p.next()
	switch tok.typ {
	case tokWord:
		words := []string{tok.text}
		for p.peek().typ == tokWord {
			words = append(words, p.next().text)
		}
		return grammar.NewWords(words), nil
	case tokLAngle:
		name, err := p.expect(tokWord)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRAngle); err != nil {
			return nil, err
		}
		return p.reference(name)
	case tokLSquare:
		inner, err := p.alternative()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRSquare); err != nil {
			return nil, err
		}
		return grammar.NewOptional(inner), nil
	case tokLParen:
		inner, err := p.alternative()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, p.errorf(tok, "unexpected %s", tok.typ)
}

func (p *parser) reference(name token) (grammar.Element, error) {
	if el, ok := p.extras[name.text]; ok && el != nil {
		return el, nil
	}
	known := make([]string, 0, len(p.extras))
	for n := range p.extras {
		known = append(known, n)
	}
	slices.Sort(known)
	return nil, &grammar.DefinitionError{
		Element:    "<" + name.text + ">",
		Reason:     fmt.Sprintf("spec %q references unknown extra %q", p.spec, name.text),
		Suggestion: grammar.ClosestName(name.text, known),
	}
}
