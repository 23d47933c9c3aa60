// Package en provides English number elements for voice grammars.
package en

import (
	"fmt"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

type spoken struct {
	words []string
	value int
}

var (
	zeroWords = []spoken{{[]string{"zero", "oh"}, 0}}
	onesWords = []spoken{
		{[]string{"one"}, 1},
		{[]string{"two", "too", "to"}, 2},
		{[]string{"three"}, 3},
		{[]string{"four"}, 4},
		{[]string{"five"}, 5},
		{[]string{"six"}, 6},
		{[]string{"seven"}, 7},
		{[]string{"eight"}, 8},
		{[]string{"nine"}, 9},
	}
	teenWords = []spoken{
		{[]string{"ten"}, 10},
		{[]string{"eleven"}, 11},
		{[]string{"twelve"}, 12},
		{[]string{"thirteen"}, 13},
		{[]string{"fourteen"}, 14},
		{[]string{"fifteen"}, 15},
		{[]string{"sixteen"}, 16},
		{[]string{"seventeen"}, 17},
		{[]string{"eighteen"}, 18},
		{[]string{"nineteen"}, 19},
	}
	tensWords = []spoken{
		{[]string{"twenty"}, 20},
		{[]string{"thirty"}, 30},
		{[]string{"forty"}, 40},
		{[]string{"fifty"}, 50},
		{[]string{"sixty"}, 60},
		{[]string{"seventy"}, 70},
		{[]string{"eighty"}, 80},
		{[]string{"ninety"}, 90},
	}
)

// wordMap matches any listed word and yields its value.
func wordMap(entries []spoken) grammar.Element {
	var children []grammar.Element
	for _, e := range entries {
		for _, w := range e.words {
			children = append(children, grammar.NewLiteral(w, grammar.WithValue(e.value)))
		}
	}
	return grammar.NewAlternative(children)
}

func oneOf(children ...grammar.Element) grammar.Element {
	if len(children) == 1 {
		return children[0]
	}
	return grammar.NewAlternative(children)
}

func asInt(v any) (int, bool) {
	n, ok := v.(int)
	return n, ok
}

// magnitude matches "[multiplier] word [remainder]" and yields
// multiplier*factor + remainder. A missing multiplier counts as one.
func magnitude(factor int, word string, multipliers, remainders []grammar.Element) grammar.Element {
	seq := grammar.NewSequence([]grammar.Element{
		grammar.NewOptional(oneOf(multipliers...)),
		grammar.NewLiteral(word),
		grammar.NewOptional(oneOf(remainders...)),
	})
	return grammar.NewModifier(seq, func(v any) (any, error) {
		parts, ok := v.([]any)
		if !ok || len(parts) != 3 {
			return nil, fmt.Errorf("magnitude %q: unexpected value %v", word, v)
		}
		mult := 1
		if n, ok := asInt(parts[0]); ok {
			mult = n
		}
		rem, _ := asInt(parts[2])
		return mult*factor + rem, nil
	})
}

var integerContent = buildIntegerContent()

func buildIntegerContent() grammar.Element {
	zero := wordMap(zeroWords)
	ones := wordMap(onesWords)
	teens := wordMap(teenWords)

	tens := grammar.NewModifier(grammar.NewSequence([]grammar.Element{
		wordMap(tensWords),
		grammar.NewOptional(wordMap(onesWords)),
	}), func(v any) (any, error) {
		parts, _ := v.([]any)
		if len(parts) != 2 {
			return nil, fmt.Errorf("tens: unexpected value %v", v)
		}
		n, ok := asInt(parts[0])
		if !ok {
			return nil, fmt.Errorf("tens: unexpected value %v", v)
		}
		rem, _ := asInt(parts[1])
		return n + rem, nil
	})

	// "[and] <1-99>", as in "two hundred and six".
	andSmall := grammar.NewModifier(grammar.NewSequence([]grammar.Element{
		grammar.NewOptional(grammar.NewLiteral("and")),
		oneOf(ones, teens, tens),
	}), func(v any) (any, error) {
		parts, _ := v.([]any)
		if len(parts) != 2 {
			return nil, fmt.Errorf("and: unexpected value %v", v)
		}
		return parts[1], nil
	})

	hundreds := magnitude(100, "hundred", []grammar.Element{ones}, []grammar.Element{andSmall})
	bigHundreds := magnitude(100, "hundred", []grammar.Element{teens, tens}, []grammar.Element{andSmall})
	thousands := magnitude(1000, "thousand",
		[]grammar.Element{ones, teens, tens, hundreds},
		[]grammar.Element{andSmall, hundreds})
	millions := magnitude(1000000, "million",
		[]grammar.Element{ones, teens, tens, hundreds, thousands},
		[]grammar.Element{andSmall, hundreds, thousands})

	return grammar.NewAlternative([]grammar.Element{
		zero, ones, teens, tens, hundreds, bigHundreds, thousands, millions,
	})
}

// inRange rejects values outside [min, max).
func inRange(min, max int) grammar.ModifierFunc {
	return func(v any) (any, error) {
		n, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("integer: unexpected value %v", v)
		}
		if n < min || n >= max {
			return nil, fmt.Errorf("integer %d outside [%d, %d)", n, min, max)
		}
		return n, nil
	}
}

// IntegerRef matches a spoken English integer from min up to but excluding
// max, for example "two hundred and thirty four". Its value is an int.
func IntegerRef(name string, min, max int, opts ...grammar.Option) *grammar.Modifier {
	opts = append([]grammar.Option{grammar.WithName(name)}, opts...)
	return grammar.NewModifier(integerContent, inRange(min, max), opts...)
}

// DigitsRef matches between min and max spoken digits, such as
// "four oh seven", and yields them as a []int.
func DigitsRef(name string, min, max int, opts ...grammar.Option) *grammar.Modifier {
	digit := wordMap(append(append([]spoken(nil), zeroWords...), onesWords...))
	rep := grammar.NewRepetition(digit, min, max)
	opts = append([]grammar.Option{grammar.WithName(name)}, opts...)
	return grammar.NewModifier(rep, func(v any) (any, error) {
		parts, _ := v.([]any)
		digits := make([]int, 0, len(parts))
		for _, p := range parts {
			n, ok := asInt(p)
			if !ok {
				return nil, fmt.Errorf("digits: unexpected value %v", p)
			}
			digits = append(digits, n)
		}
		return digits, nil
	}, opts...)
}
