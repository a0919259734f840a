package hardware

import (
	"context"
	"errors"
	"time"

	"github.com/holee9/hnvue-console-sub002/internal/interlock"
)

// ErrExposureAborted is returned by TriggerExposure when the exposure was
// halted before completion
var ErrExposureAborted = errors.New("exposure aborted")

// GeneratorStatus is the generator's operating state
type GeneratorStatus string

const (
	GeneratorStandby  GeneratorStatus = "STANDBY"
	GeneratorReady    GeneratorStatus = "READY"
	GeneratorExposing GeneratorStatus = "EXPOSING"
	GeneratorFault    GeneratorStatus = "FAULT"
)

// ExposureParams are the technique factors for one exposure
type ExposureParams struct {
	KVp          float64
	MAs          float64
	AECEnabled   bool
	BodyPart     string
	ViewPosition string
}

// ExposureResult reports what the generator actually delivered
type ExposureResult struct {
	DeliveredMAs float64
	DoseAreaProd float64
	Duration     time.Duration
}

// Generator is the X-ray generator capability interface. Its driver
// implementation is out of scope; the core consumes only this surface.
type Generator interface {
	Prepare(ctx context.Context) error
	TriggerExposure(ctx context.Context, params ExposureParams) (ExposureResult, error)
	AbortExposure(ctx context.Context) error
	Status() GeneratorStatus
}

// Image is one acquired detector frame
type Image struct {
	Rows       int
	Cols       int
	Pixels     []uint16
	AcquiredAt time.Time
}

// Detector is the flat-panel detector capability interface
type Detector interface {
	StartAcquisition(ctx context.Context) error
	AcquiredImage(ctx context.Context) (*Image, error)
}

// DoseEntry is one dose contribution reported to the hardware dose tracker
type DoseEntry struct {
	StudyID   string
	PatientID string
	DoseMAs   float64
}

// DoseTracker is the hardware-side dose accounting interface
type DoseTracker interface {
	RecordDose(ctx context.Context, entry DoseEntry) error
	CumulativeDose(ctx context.Context) (float64, error)
	IsWithinDoseLimits(ctx context.Context, entry DoseEntry) (bool, error)
}

// InterlockSource is the hardware safety-interlock surface. The interlock
// poller reads CheckAllInterlocks into the in-memory gate; the remaining
// methods serve the simulator harness and emergency path.
type InterlockSource interface {
	CheckAllInterlocks(ctx context.Context) (interlock.Status, error)
	SetInterlockState(flag interlock.Flag, value bool) error
	IsExposureBlocked() bool
	EmergencyStandby()
}
