package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no edge exists for (current state, trigger)
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not a declared workflow state
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a transition guard denies the transition
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrGuardTimeout is returned when a guard exceeds its evaluation budget
	ErrGuardTimeout = errors.New("guard evaluation exceeded time budget")
)
