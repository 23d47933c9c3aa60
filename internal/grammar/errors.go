package grammar

import (
	"fmt"
	"strings"
)

// DefinitionError reports a malformed element, rule or grammar. It is
// returned before any engine interaction.
type DefinitionError struct {
	Grammar    string
	Rule       string
	Element    string
	Reason     string
	Suggestion string
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("grammar definition")
	if e.Grammar != "" {
		fmt.Fprintf(&b, " %q", e.Grammar)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, " rule %q", e.Rule)
	}
	if e.Element != "" {
		fmt.Fprintf(&b, " element %s", e.Element)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (did you mean %q?)", e.Suggestion)
	}
	return b.String()
}

// CallbackError wraps a failure raised by a rule's processing callback. It
// is logged and handed to observers, never returned to the engine.
type CallbackError struct {
	Grammar string
	Rule    string
	Words   []string
	Err     error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("rule %q in grammar %q failed processing %q: %v",
		e.Rule, e.Grammar, strings.Join(e.Words, " "), e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// EngineRejection reports that the engine refused a compiled grammar. The
// grammar stays unloaded.
type EngineRejection struct {
	Grammar string
	Err     error
}

func (e *EngineRejection) Error() string {
	return fmt.Sprintf("engine rejected grammar %q: %v", e.Grammar, e.Err)
}

func (e *EngineRejection) Unwrap() error { return e.Err }

func definitionErrorf(rule string, format string, args ...any) *DefinitionError {
	return &DefinitionError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
