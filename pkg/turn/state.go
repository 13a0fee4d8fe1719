package turn

import "time"

// State is the orchestration loop's position within one turn.
type State int

const (
	StateAwaitingProvider State = iota
	StateDispatchingTools
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingProvider:
		return "AWAITING_PROVIDER"
	case StateDispatchingTools:
		return "DISPATCHING_TOOLS"
	case StateTerminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes loop state changes, for logging and metrics.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine validates transitions for one turn. A turn is owned by
// exactly one loop invocation, so no locking is needed here.
type stateMachine struct {
	current   State
	listeners []StateListener
}

func newStateMachine(listeners []StateListener) *stateMachine {
	return &stateMachine{current: StateAwaitingProvider, listeners: listeners}
}

var validTransitions = map[State][]State{
	StateAwaitingProvider: {StateDispatchingTools, StateTerminated},
	StateDispatchingTools: {StateAwaitingProvider, StateTerminated},
}

func (m *stateMachine) transition(to State, reason string) error {
	allowed, ok := validTransitions[m.current]
	if !ok {
		return &InvalidTransitionError{From: m.current, To: to}
	}
	found := false
	for _, s := range allowed {
		if s == to {
			found = true
			break
		}
	}
	if !found {
		return &InvalidTransitionError{From: m.current, To: to}
	}

	event := StateChange{
		FromState: m.current,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	for _, listener := range m.listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
