package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/interlock"
)

// Simulator implements the generator, detector, interlock-source, and
// dose-tracker capability interfaces in memory. It backs development,
// the HTTP test harness, and the package tests; the real drivers live in
// the hardware process and speak the same interfaces.
type Simulator struct {
	logger *zap.Logger

	mu            sync.Mutex
	interlocks    interlock.Status
	generator     GeneratorStatus
	exposureTime  time.Duration
	abortCh       chan struct{}
	armed         bool
	lastImage     *Image
	cumulativeMAs float64
	imageRows     int
	imageCols     int
}

// NewSimulator creates a simulator with every interlock in its safe
// position and the generator in standby
func NewSimulator(logger *zap.Logger) *Simulator {
	return &Simulator{
		logger:       logger,
		interlocks:   interlock.AllSafe(),
		generator:    GeneratorStandby,
		exposureTime: 50 * time.Millisecond,
		imageRows:    64,
		imageCols:    64,
	}
}

// SetExposureTime overrides the simulated exposure duration
func (s *Simulator) SetExposureTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposureTime = d
}

// CheckAllInterlocks returns the current interlock snapshot
func (s *Simulator) CheckAllInterlocks(ctx context.Context) (interlock.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.interlocks
	status.GeneratorReady = s.generator == GeneratorReady || s.generator == GeneratorExposing
	return status, nil
}

// SetInterlockState flips one simulated interlock
func (s *Simulator) SetInterlockState(flag interlock.Flag, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.interlocks.With(flag, value)
	if err != nil {
		return err
	}
	s.interlocks = next

	s.logger.Info("Simulated interlock changed",
		zap.String("flag", string(flag)),
		zap.Bool("safe", value))
	return nil
}

// IsExposureBlocked reports whether the simulated hardware blocks exposure
func (s *Simulator) IsExposureBlocked() bool {
	status, _ := s.CheckAllInterlocks(context.Background())
	return status.ExposureBlocked()
}

// EmergencyStandby clears the simulated emergency stop and drops the
// generator to standby
func (s *Simulator) EmergencyStandby() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interlocks.EmergencyStopClear = true
	s.generator = GeneratorStandby
	if s.abortCh != nil {
		close(s.abortCh)
		s.abortCh = nil
	}

	s.logger.Warn("Simulated emergency standby")
}

// Prepare readies the generator for exposure
func (s *Simulator) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator == GeneratorExposing {
		return fmt.Errorf("generator busy: exposure in progress")
	}
	s.generator = GeneratorReady
	return nil
}

// TriggerExposure runs one simulated exposure. It blocks for the
// configured exposure time and returns early with ErrExposureAborted if
// AbortExposure or EmergencyStandby is called.
func (s *Simulator) TriggerExposure(ctx context.Context, params ExposureParams) (ExposureResult, error) {
	s.mu.Lock()
	if s.generator != GeneratorReady {
		s.mu.Unlock()
		return ExposureResult{}, fmt.Errorf("generator not ready (status %s)", s.generator)
	}
	s.generator = GeneratorExposing
	abortCh := make(chan struct{})
	s.abortCh = abortCh
	duration := s.exposureTime
	s.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(duration)
	defer timer.Stop()

	var aborted bool
	select {
	case <-timer.C:
	case <-abortCh:
		aborted = true
	case <-ctx.Done():
		aborted = true
	}

	s.mu.Lock()
	s.generator = GeneratorStandby
	if s.abortCh == abortCh {
		s.abortCh = nil
	}
	if aborted {
		s.armed = false
		s.lastImage = nil
		s.mu.Unlock()
		return ExposureResult{Duration: time.Since(start)}, ErrExposureAborted
	}

	if s.armed {
		s.lastImage = s.synthesizeImage()
		s.armed = false
	}
	s.mu.Unlock()

	return ExposureResult{
		DeliveredMAs: params.MAs,
		DoseAreaProd: params.MAs * params.KVp * 0.01,
		Duration:     time.Since(start),
	}, nil
}

// AbortExposure halts an in-flight exposure immediately
func (s *Simulator) AbortExposure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abortCh != nil {
		close(s.abortCh)
		s.abortCh = nil
		s.logger.Warn("Simulated exposure aborted")
	}
	s.generator = GeneratorStandby
	return nil
}

// Status returns the generator status
func (s *Simulator) Status() GeneratorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generator
}

// StartAcquisition arms the detector for the next exposure
func (s *Simulator) StartAcquisition(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.interlocks.DetectorReady {
		return fmt.Errorf("detector not ready")
	}
	s.armed = true
	return nil
}

// AcquiredImage returns the frame captured by the last completed exposure
func (s *Simulator) AcquiredImage(ctx context.Context) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastImage == nil {
		return nil, fmt.Errorf("no acquired image available")
	}
	return s.lastImage, nil
}

func (s *Simulator) synthesizeImage() *Image {
	pixels := make([]uint16, s.imageRows*s.imageCols)
	for y := 0; y < s.imageRows; y++ {
		for x := 0; x < s.imageCols; x++ {
			// Horizontal gradient, enough to make exported files non-trivial.
			pixels[y*s.imageCols+x] = uint16((x * 65535) / s.imageCols)
		}
	}
	return &Image{
		Rows:       s.imageRows,
		Cols:       s.imageCols,
		Pixels:     pixels,
		AcquiredAt: time.Now(),
	}
}

// RecordDose accumulates the hardware-side cumulative dose counter
func (s *Simulator) RecordDose(ctx context.Context, entry DoseEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumulativeMAs += entry.DoseMAs
	return nil
}

// CumulativeDose returns the hardware-side cumulative dose counter
func (s *Simulator) CumulativeDose(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulativeMAs, nil
}

// IsWithinDoseLimits is a coarse hardware-side sanity bound; the dose
// coordinator owns the clinical limit decision
func (s *Simulator) IsWithinDoseLimits(ctx context.Context, entry DoseEntry) (bool, error) {
	return entry.DoseMAs >= 0, nil
}
