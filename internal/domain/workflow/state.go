package workflow

// State represents a workflow state in the clinical exposure lifecycle
type State string

const (
	StateIdle               State = "IDLE"
	StateWorklistSync       State = "WORKLIST_SYNC"
	StatePatientSelect      State = "PATIENT_SELECT"
	StateProtocolSelect     State = "PROTOCOL_SELECT"
	StatePositionAndPreview State = "POSITION_AND_PREVIEW"
	StateExposureTrigger    State = "EXPOSURE_TRIGGER"
	StateQcReview           State = "QC_REVIEW"
	StateRejectRetake       State = "REJECT_RETAKE"
	StateMppsComplete       State = "MPPS_COMPLETE"
	StatePacsExport         State = "PACS_EXPORT"
	StateCompleted          State = "COMPLETED"
)

var validStates = map[State]bool{
	StateIdle:               true,
	StateWorklistSync:       true,
	StatePatientSelect:      true,
	StateProtocolSelect:     true,
	StatePositionAndPreview: true,
	StateExposureTrigger:    true,
	StateQcReview:           true,
	StateRejectRetake:       true,
	StateMppsComplete:       true,
	StatePacsExport:         true,
	StateCompleted:          true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
}

// AllStates returns every declared workflow state
func AllStates() []State {
	states := make([]State, 0, len(validStates))
	for s := range validStates {
		states = append(states, s)
	}
	return states
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a declared workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}
