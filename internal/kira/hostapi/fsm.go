package hostapi

import (
	"github.com/kirahq/kira/internal/kira/kerrors"
)

// Task FSM states.
const (
	StateTodo    = "todo"
	StateDoing   = "doing"
	StateBlocked = "blocked"
	StateReview  = "review"
	StateDone    = "done"
)

// TaskStates lists every valid task state.
var TaskStates = []string{StateTodo, StateDoing, StateBlocked, StateReview, StateDone}

// taskTransitions is the allowed-successor table. A transition not listed
// here is a guard violation.
var taskTransitions = map[string][]string{
	StateTodo:    {StateDoing},
	StateDoing:   {StateBlocked, StateReview, StateDone},
	StateBlocked: {StateDoing},
	StateReview:  {StateDoing, StateDone},
	StateDone:    {StateDoing}, // reopen
}

// ValidState reports whether s is a member of the task state set.
func ValidState(s string) bool {
	for _, known := range TaskStates {
		if s == known {
			return true
		}
	}
	return false
}

// CheckTransition validates that from → to is in the allowed transition set.
// A no-op transition (from == to) is allowed and emits no event.
func CheckTransition(from, to string) error {
	if !ValidState(to) {
		return kerrors.Validation("unknown task status %q", to)
	}
	if from == to {
		return nil
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return nil
		}
	}
	return kerrors.FSMGuard("task transition %s -> %s is not allowed", from, to)
}
