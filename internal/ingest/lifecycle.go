package ingest

import (
	"errors"
	"fmt"
)

// RunState is the lifecycle state of a run context.
//
// Valid transitions:
//
//	Idle → Bound → Running → {Completed, Failed} → Closed
//
// Every entry into Running reaches Closed, success or failure; closing clears
// the bound logging scope and commits the store transaction exactly once.
type RunState string

// Run lifecycle states.
const (
	StateIdle      RunState = "idle"
	StateBound     RunState = "bound"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateClosed    RunState = "closed"
)

// ErrInvalidTransition indicates a run lifecycle transition that the state
// machine does not allow, which is a bug in the controller or its caller.
var ErrInvalidTransition = errors.New("invalid run state transition")

var validTransitions = map[RunState][]RunState{
	StateIdle:      {StateBound},
	StateBound:     {StateRunning, StateClosed},
	StateRunning:   {StateCompleted, StateFailed},
	StateCompleted: {StateClosed},
	StateFailed:    {StateClosed},
}

// validTransition reports whether from → to is an allowed lifecycle step.
func validTransition(from, to RunState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// transition advances the run state, failing on steps the lifecycle does not
// allow.
func (c *Context) transition(to RunState) error {
	if !validTransition(c.state, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.state, to)
	}

	c.state = to

	return nil
}

// State returns the current lifecycle state of the run context.
func (c *Context) State() RunState {
	return c.state
}
