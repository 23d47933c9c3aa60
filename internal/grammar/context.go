package grammar

import "strings"

// Window identifies the foreground application at the start of an
// utterance.
type Window struct {
	Executable string `json:"executable"`
	Title      string `json:"title"`
	Handle     uint64 `json:"handle,omitempty"`
}

// Context gates rule and grammar activation on the foreground window.
type Context interface {
	Matches(win Window) bool
}

// AppContext matches windows whose executable and title contain the given
// fragments, case-insensitively. Empty fragments match anything. Exclude
// inverts the result.
type AppContext struct {
	Executable string
	Title      string
	Exclude    bool
}

func (c AppContext) Matches(win Window) bool {
	match := containsFold(win.Executable, c.Executable) && containsFold(win.Title, c.Title)
	if c.Exclude {
		return !match
	}
	return match
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// FuncContext adapts a predicate function.
type FuncContext func(win Window) bool

func (f FuncContext) Matches(win Window) bool { return f(win) }

type allOf []Context

func (a allOf) Matches(win Window) bool {
	for _, c := range a {
		if c != nil && !c.Matches(win) {
			return false
		}
	}
	return true
}

type anyOf []Context

func (a anyOf) Matches(win Window) bool {
	for _, c := range a {
		if c != nil && c.Matches(win) {
			return true
		}
	}
	return false
}

type not struct{ inner Context }

func (n not) Matches(win Window) bool { return n.inner != nil && !n.inner.Matches(win) }

// And matches when every context matches.
func And(contexts ...Context) Context { return allOf(contexts) }

// Or matches when at least one context matches.
func Or(contexts ...Context) Context { return anyOf(contexts) }

// Not inverts a context. Not(nil) matches nothing.
func Not(ctx Context) Context {
	return not{inner: ctx}
}
