package grammar

import "fmt"

// State is a grammar's load state.
type State string

// Event drives State transitions.
type Event string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

const (
	EventLoad     Event = "load"
	EventAccepted Event = "accepted"
	EventRejected Event = "rejected"
	EventUnload   Event = "unload"
)

// Transition returns the state reached from current on event.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateUnloaded:
		switch event {
		case EventLoad:
			return StateLoading, nil
		case EventUnload:
			return StateUnloaded, nil
		}
	case StateLoading:
		switch event {
		case EventAccepted:
			return StateLoaded, nil
		case EventRejected:
			return StateUnloaded, nil
		}
	case StateLoaded:
		switch event {
		case EventUnload:
			return StateUnloaded, nil
		}
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(current State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", current, event)
}
