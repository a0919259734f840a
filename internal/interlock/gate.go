package interlock

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Flag names the nine hardware interlocks
type Flag string

const (
	FlagDoorClosed         Flag = "door_closed"
	FlagEmergencyStopClear Flag = "emergency_stop_clear"
	FlagThermalOK          Flag = "thermal_ok"
	FlagGeneratorReady     Flag = "generator_ready"
	FlagDetectorReady      Flag = "detector_ready"
	FlagCollimatorValid    Flag = "collimator_valid"
	FlagTableLocked        Flag = "table_locked"
	FlagDoseWithinLimits   Flag = "dose_within_limits"
	FlagAECConfigured      Flag = "aec_configured"
)

// AllFlags lists the nine interlocks in a stable order
func AllFlags() []Flag {
	return []Flag{
		FlagDoorClosed,
		FlagEmergencyStopClear,
		FlagThermalOK,
		FlagGeneratorReady,
		FlagDetectorReady,
		FlagCollimatorValid,
		FlagTableLocked,
		FlagDoseWithinLimits,
		FlagAECConfigured,
	}
}

// Status is an immutable snapshot of all nine interlocks. True means safe.
// It is always read and written as a whole, never one flag at a time.
type Status struct {
	DoorClosed         bool `json:"door_closed"`
	EmergencyStopClear bool `json:"emergency_stop_clear"`
	ThermalOK          bool `json:"thermal_ok"`
	GeneratorReady     bool `json:"generator_ready"`
	DetectorReady      bool `json:"detector_ready"`
	CollimatorValid    bool `json:"collimator_valid"`
	TableLocked        bool `json:"table_locked"`
	DoseWithinLimits   bool `json:"dose_within_limits"`
	AECConfigured      bool `json:"aec_configured"`
}

// AllSafe returns a snapshot with every interlock in its safe position
func AllSafe() Status {
	return Status{
		DoorClosed:         true,
		EmergencyStopClear: true,
		ThermalOK:          true,
		GeneratorReady:     true,
		DetectorReady:      true,
		CollimatorValid:    true,
		TableLocked:        true,
		DoseWithinLimits:   true,
		AECConfigured:      true,
	}
}

// Get returns the value of one flag
func (s Status) Get(flag Flag) (bool, error) {
	switch flag {
	case FlagDoorClosed:
		return s.DoorClosed, nil
	case FlagEmergencyStopClear:
		return s.EmergencyStopClear, nil
	case FlagThermalOK:
		return s.ThermalOK, nil
	case FlagGeneratorReady:
		return s.GeneratorReady, nil
	case FlagDetectorReady:
		return s.DetectorReady, nil
	case FlagCollimatorValid:
		return s.CollimatorValid, nil
	case FlagTableLocked:
		return s.TableLocked, nil
	case FlagDoseWithinLimits:
		return s.DoseWithinLimits, nil
	case FlagAECConfigured:
		return s.AECConfigured, nil
	default:
		return false, fmt.Errorf("unknown interlock flag %q", flag)
	}
}

// With returns a copy of the snapshot with one flag changed
func (s Status) With(flag Flag, value bool) (Status, error) {
	switch flag {
	case FlagDoorClosed:
		s.DoorClosed = value
	case FlagEmergencyStopClear:
		s.EmergencyStopClear = value
	case FlagThermalOK:
		s.ThermalOK = value
	case FlagGeneratorReady:
		s.GeneratorReady = value
	case FlagDetectorReady:
		s.DetectorReady = value
	case FlagCollimatorValid:
		s.CollimatorValid = value
	case FlagTableLocked:
		s.TableLocked = value
	case FlagDoseWithinLimits:
		s.DoseWithinLimits = value
	case FlagAECConfigured:
		s.AECConfigured = value
	default:
		return s, fmt.Errorf("unknown interlock flag %q", flag)
	}
	return s, nil
}

// ExposureBlocked returns true if any of the nine interlocks is unsafe
func (s Status) ExposureBlocked() bool {
	return !(s.DoorClosed &&
		s.EmergencyStopClear &&
		s.ThermalOK &&
		s.GeneratorReady &&
		s.DetectorReady &&
		s.CollimatorValid &&
		s.TableLocked &&
		s.DoseWithinLimits &&
		s.AECConfigured)
}

// UnsafeFlags returns the names of every unsafe interlock, in stable order
func (s Status) UnsafeFlags() []Flag {
	var unsafeFlags []Flag
	for _, flag := range AllFlags() {
		value, _ := s.Get(flag)
		if !value {
			unsafeFlags = append(unsafeFlags, flag)
		}
	}
	return unsafeFlags
}

// Gate holds the current interlock snapshot. Readers are lock-free: they
// load an immutable Status pointer atomically, so no torn snapshot is ever
// observed. Writers serialize behind a mutex and swap in a fresh copy.
type Gate struct {
	mu     sync.Mutex
	snap   atomic.Pointer[Status]
	logger *zap.Logger
}

// NewGate creates a gate with every interlock unsafe. The poller brings
// the snapshot up to date from the hardware source; until then the gate
// blocks exposure.
func NewGate(logger *zap.Logger) *Gate {
	g := &Gate{logger: logger}
	initial := Status{}
	g.snap.Store(&initial)
	return g
}

// Snapshot returns an immutable copy of the nine-flag snapshot. It never
// blocks on I/O and completes well inside the 10 ms check budget.
func (g *Gate) Snapshot() Status {
	return *g.snap.Load()
}

// IsExposureBlocked reports whether any interlock currently blocks exposure
func (g *Gate) IsExposureBlocked() bool {
	return g.Snapshot().ExposureBlocked()
}

// Set updates a single flag. The write is serialized and published as a
// whole new snapshot.
func (g *Gate) Set(flag Flag, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := *g.snap.Load()
	next, err := current.With(flag, value)
	if err != nil {
		return err
	}
	g.snap.Store(&next)

	if current != next {
		g.logger.Info("Interlock flag changed",
			zap.String("flag", string(flag)),
			zap.Bool("safe", value),
			zap.Bool("exposure_blocked", next.ExposureBlocked()))
	}
	return nil
}

// Apply replaces the whole snapshot, used by the hardware poller
func (g *Gate) Apply(status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()

	previous := *g.snap.Load()
	g.snap.Store(&status)

	if previous.ExposureBlocked() != status.ExposureBlocked() {
		g.logger.Info("Interlock gate state changed",
			zap.Bool("exposure_blocked", status.ExposureBlocked()),
			zap.Any("unsafe_flags", status.UnsafeFlags()))
	}
}

// EmergencyStandby unconditionally clears the emergency-stop condition and
// drops generator readiness: the generator must be re-prepared before the
// next exposure. Callable from any workflow state.
func (g *Gate) EmergencyStandby() {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := *g.snap.Load()
	current.EmergencyStopClear = true
	current.GeneratorReady = false
	g.snap.Store(&current)

	g.logger.Warn("Emergency standby engaged",
		zap.Bool("exposure_blocked", current.ExposureBlocked()))
}
