package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of console event
type Type string

const (
	TypeStateChanged      Type = "workflow.state_changed"
	TypeGuardDenied       Type = "workflow.guard_denied"
	TypeTransitionError   Type = "workflow.transition_error"
	TypeExposureRecorded  Type = "exposure.recorded"
	TypeExposureAborted   Type = "exposure.aborted"
	TypeImageAccepted     Type = "image.accepted"
	TypeImageRejected     Type = "image.rejected"
	TypeEmergencyStandby  Type = "safety.emergency_standby"
	TypeStudyCompleted    Type = "study.completed"
	TypeRecoveryCompleted Type = "study.recovery_completed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// Event is a broadcast notification of a state change or safety action.
// Subscribers (GUI, audit trail) observe the workflow through these;
// publication never blocks the transition critical path.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	StudyID   string                 `json:"study_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// New creates an event with a generated id and current timestamp
func New(eventType Type, studyID string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		StudyID:   studyID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
