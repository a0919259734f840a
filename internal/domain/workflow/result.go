package workflow

// Outcome tags the variant of a TransitionResult
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeInvalidState Outcome = "INVALID_STATE"
	OutcomeGuardFailed  Outcome = "GUARD_FAILED"
	OutcomeError        Outcome = "ERROR"
	OutcomeFatal        Outcome = "FATAL"
)

// TransitionResult is the tagged outcome of a TryTransition call
type TransitionResult struct {
	Outcome   Outcome `json:"outcome"`
	Trigger   Trigger `json:"trigger"`
	FromState State   `json:"from_state"`
	NewState  State   `json:"new_state,omitempty"`
	GuardName string  `json:"guard_name,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Succeeded reports whether the transition committed
func (r TransitionResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Success builds a committed-transition result
func Success(trigger Trigger, from, to State) TransitionResult {
	return TransitionResult{
		Outcome:   OutcomeSuccess,
		Trigger:   trigger,
		FromState: from,
		NewState:  to,
	}
}

// InvalidStateResult reports a trigger with no edge from the current state
func InvalidStateResult(trigger Trigger, from State) TransitionResult {
	return TransitionResult{
		Outcome:   OutcomeInvalidState,
		Trigger:   trigger,
		FromState: from,
		Reason:    "trigger " + trigger.String() + " is not valid in state " + from.String(),
	}
}

// GuardFailedResult reports the first failing guard by name
func GuardFailedResult(trigger Trigger, from State, guardName, reason string) TransitionResult {
	return TransitionResult{
		Outcome:   OutcomeGuardFailed,
		Trigger:   trigger,
		FromState: from,
		GuardName: guardName,
		Reason:    reason,
	}
}

// ErrorResult reports a handler or collaborator fault after rollback
func ErrorResult(trigger Trigger, from State, reason string) TransitionResult {
	return TransitionResult{
		Outcome:   OutcomeError,
		Trigger:   trigger,
		FromState: from,
		Reason:    reason,
	}
}

// FatalResult reports a journal durability failure; exposure triggers are
// refused until durable storage is restored
func FatalResult(trigger Trigger, from State, reason string) TransitionResult {
	return TransitionResult{
		Outcome:   OutcomeFatal,
		Trigger:   trigger,
		FromState: from,
		Reason:    reason,
	}
}
