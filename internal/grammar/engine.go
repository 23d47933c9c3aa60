package grammar

// Handle identifies a grammar loaded into an engine.
type Handle uint64

// Engine is the recognition back end a grammar registers with. Engines call
// back into the grammar through ProcessBegin, ProcessRecognition,
// ProcessRecognitionOther and ProcessRecognitionFailure, one utterance at a
// time.
type Engine interface {
	// LoadGrammar registers a compiled grammar. An error means the engine
	// rejected it.
	LoadGrammar(name string, compiled *CompiledGrammar) (Handle, error)
	UnloadGrammar(h Handle) error
	UpdateRuleActivation(h Handle, rule string, active bool) error
}
