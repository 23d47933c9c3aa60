package dictation

// Text is the value of a dictation element: the raw tokens the engine
// returned, formatted lazily.
type Text struct {
	Tokens []string
}

func NewText(tokens []string) Text {
	return Text{Tokens: append([]string(nil), tokens...)}
}

// Words returns the written forms.
func (t Text) Words() []string { return Words(t.Tokens, false) }

// SpokenWords returns the spoken forms.
func (t Text) SpokenWords() []string { return Words(t.Tokens, true) }

// Format renders the tokens with opts.
func (t Text) Format(opts Options) string { return Format(t.Tokens, opts) }

// String renders the tokens with default options.
func (t Text) String() string { return Format(t.Tokens, Options{}) }

// Empty reports whether no words were dictated.
func (t Text) Empty() bool { return len(t.Tokens) == 0 }
