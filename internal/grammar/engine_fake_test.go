package grammar

import (
	"fmt"
	"sync"
)

type fakeEngine struct {
	mu      sync.Mutex
	next    Handle
	reject  error
	loaded  map[Handle]*CompiledGrammar
	active  map[Handle]map[string]bool
	loads   int
	unloads []Handle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		loaded: make(map[Handle]*CompiledGrammar),
		active: make(map[Handle]map[string]bool),
	}
}

func (e *fakeEngine) LoadGrammar(name string, compiled *CompiledGrammar) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if e.reject != nil {
		return 0, e.reject
	}
	e.next++
	e.loaded[e.next] = compiled
	e.active[e.next] = make(map[string]bool)
	return e.next, nil
}

func (e *fakeEngine) UnloadGrammar(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.loaded[h]; !ok {
		return fmt.Errorf("unknown handle %d", h)
	}
	delete(e.loaded, h)
	delete(e.active, h)
	e.unloads = append(e.unloads, h)
	return nil
}

func (e *fakeEngine) UpdateRuleActivation(h Handle, rule string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules, ok := e.active[h]
	if !ok {
		return fmt.Errorf("unknown handle %d", h)
	}
	rules[rule] = active
	return nil
}

func (e *fakeEngine) isActive(h Handle, rule string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[h][rule]
}
