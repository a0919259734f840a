package workflow

// Trigger represents an operator or hardware event that can cause a state transition
type Trigger string

const (
	TriggerStart            Trigger = "START"
	TriggerWorklistSynced   Trigger = "WORKLIST_SYNCED"
	TriggerEmergencyBypass  Trigger = "EMERGENCY_BYPASS"
	TriggerPatientChosen    Trigger = "PATIENT_CHOSEN"
	TriggerProtocolChosen   Trigger = "PROTOCOL_CHOSEN"
	TriggerExposure         Trigger = "TRIGGER_EXPOSURE"
	TriggerExposureComplete Trigger = "EXPOSURE_COMPLETE"
	TriggerExposureAborted  Trigger = "EXPOSURE_ABORTED"
	TriggerImageAccepted    Trigger = "IMAGE_ACCEPTED"
	TriggerImageRejected    Trigger = "IMAGE_REJECTED"
	TriggerRetakeAuthorized Trigger = "RETAKE_AUTHORIZED"
	TriggerMppsDone         Trigger = "MPPS_DONE"
	TriggerExported         Trigger = "EXPORTED"
)

var validTriggers = map[Trigger]bool{
	TriggerStart:            true,
	TriggerWorklistSynced:   true,
	TriggerEmergencyBypass:  true,
	TriggerPatientChosen:    true,
	TriggerProtocolChosen:   true,
	TriggerExposure:         true,
	TriggerExposureComplete: true,
	TriggerExposureAborted:  true,
	TriggerImageAccepted:    true,
	TriggerImageRejected:    true,
	TriggerRetakeAuthorized: true,
	TriggerMppsDone:         true,
	TriggerExported:         true,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid checks whether the trigger is one of the declared triggers
func (t Trigger) IsValid() bool {
	return validTriggers[t]
}
