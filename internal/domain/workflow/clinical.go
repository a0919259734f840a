package workflow

// Guard names surfaced to the operator on a denied transition
const (
	GuardInterlocksNotOK     = "InterlocksNotOK"
	GuardDoseLimitExceeded   = "DoseLimitExceeded"
	GuardProtocolUnsafe      = "ProtocolUnsafe"
	GuardNoRetakesRemaining  = "NoRetakesRemaining"
	GuardRetakeNotAuthorized = "RetakeNotAuthorized"
)

// ClinicalGuards supplies the named predicates the clinical transition
// table requires. The session layer binds them to the interlock gate,
// dose coordinator, and retake coordinator.
type ClinicalGuards struct {
	InterlocksOK     Guard
	DoseWithinLimits Guard
	ProtocolSafe     Guard
	RetakesRemaining Guard
	RetakeAuthorized Guard
}

// NewClinicalMachine builds the exposure workflow machine. Idle is the
// only initial state; Completed is the only terminal state.
func NewClinicalMachine(g ClinicalGuards) *Machine {
	b := NewBuilder()

	b.Configure(StateIdle).
		Permit(TriggerStart, StateWorklistSync)

	b.Configure(StateWorklistSync).
		Permit(TriggerWorklistSynced, StatePatientSelect).
		Permit(TriggerEmergencyBypass, StatePatientSelect)

	b.Configure(StatePatientSelect).
		Permit(TriggerPatientChosen, StateProtocolSelect)

	b.Configure(StateProtocolSelect).
		Permit(TriggerProtocolChosen, StatePositionAndPreview)

	b.Configure(StatePositionAndPreview).
		Permit(TriggerExposure, StateExposureTrigger,
			g.InterlocksOK, g.DoseWithinLimits, g.ProtocolSafe)

	b.Configure(StateExposureTrigger).
		Permit(TriggerExposureComplete, StateQcReview).
		Permit(TriggerExposureAborted, StatePositionAndPreview)

	b.Configure(StateQcReview).
		Permit(TriggerImageAccepted, StateMppsComplete).
		Permit(TriggerImageRejected, StateRejectRetake)

	b.Configure(StateRejectRetake).
		Permit(TriggerRetakeAuthorized, StateExposureTrigger,
			g.RetakesRemaining, g.RetakeAuthorized)

	b.Configure(StateMppsComplete).
		Permit(TriggerMppsDone, StatePacsExport)

	b.Configure(StatePacsExport).
		Permit(TriggerExported, StateCompleted)

	return b.Build(StateIdle)
}
