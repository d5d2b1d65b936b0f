// ABOUTME: Turn state machine alternating between generating and executing tools
// ABOUTME: Rejects transitions that the turn loop must never make

package turn

import "fmt"

// State is the phase a turn is in.
type State string

// Turn states. A turn starts in StateGenerating and ends there.
const (
	StateGenerating    State = "generating"
	StateToolExecuting State = "tool_executing"
)

// InvalidTransitionError reports a state change the machine does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid turn transition from %s to %s", e.From, e.To)
}

// machine tracks the current state of a single turn. It is owned by one
// goroutine and needs no locking.
type machine struct {
	current State
	rounds  int
}

func newMachine() *machine {
	return &machine{current: StateGenerating}
}

// transitionValid checks if a state transition is allowed
func transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateGenerating:    {StateToolExecuting},
		StateToolExecuting: {StateGenerating},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves to the given state, counting each entry into tool execution.
func (m *machine) transition(to State) error {
	if !transitionValid(m.current, to) {
		return &InvalidTransitionError{From: m.current, To: to}
	}
	m.current = to
	if to == StateToolExecuting {
		m.rounds++
	}
	return nil
}
