package protocol

import "time"

// Window describes the foreground window an utterance was spoken into.
type Window struct {
	Executable string `json:"executable,omitempty"`
	Title      string `json:"title,omitempty"`
	Handle     uint64 `json:"handle,omitempty"`
}

// Utterance is a recognized word sequence published by a speech engine.
// Failure marks an utterance the engine could not recognize at all.
type Utterance struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Words     []string  `json:"words"`
	Window    *Window   `json:"window,omitempty"`
	Failure   bool      `json:"failure,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// RecognitionResult reports which rule handled an utterance.
type RecognitionResult struct {
	UtteranceID string            `json:"utterance_id"`
	SessionID   string            `json:"session_id,omitempty"`
	Grammar     string            `json:"grammar"`
	Rule        string            `json:"rule"`
	Words       []string          `json:"words"`
	Value       string            `json:"value,omitempty"`
	Extras      map[string]string `json:"extras,omitempty"`
	Dictation   string            `json:"dictation,omitempty"`
	Handled     bool              `json:"handled"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RecognitionFailure reports an utterance no grammar accepted.
type RecognitionFailure struct {
	UtteranceID string    `json:"utterance_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Words       []string  `json:"words,omitempty"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// ListUpdate replaces the contents of a grammar list. Items sets a plain
// list; Entries sets a keyed list.
type ListUpdate struct {
	Grammar   string            `json:"grammar"`
	List      string            `json:"list"`
	Items     []string          `json:"items,omitempty"`
	Entries   map[string]string `json:"entries,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	SubjectUtterance         = "grammar.utterance"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectResult            = "grammar.result"
	SubjectFailure           = "grammar.failure"
	SubjectListUpdate        = "grammar.list.update"
)

// Failure reasons.
const (
	ReasonNoMatch = "no_match"
	ReasonEngine  = "engine_failure"
)
