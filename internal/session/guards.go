package session

import (
	"context"
	"fmt"

	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
)

// Protocol technique bounds accepted by the safety check. Values outside
// these are refused regardless of configured dose limits.
const (
	minProtocolKVp = 40.0
	maxProtocolKVp = 150.0
	maxProtocolMAs = 500.0
)

// clinicalGuards binds the machine's guard slots to the live
// collaborators. Guards run under the transition lock and read only
// in-memory state, so each fits well inside its evaluation budget.
func (s *Session) clinicalGuards() workflow.ClinicalGuards {
	return workflow.ClinicalGuards{
		InterlocksOK: workflow.Guard{
			Name:  workflow.GuardInterlocksNotOK,
			Check: s.checkInterlocks,
		},
		DoseWithinLimits: workflow.Guard{
			Name:  workflow.GuardDoseLimitExceeded,
			Check: s.checkDoseLimits,
		},
		ProtocolSafe: workflow.Guard{
			Name:  workflow.GuardProtocolUnsafe,
			Check: s.checkProtocolSafe,
		},
		RetakesRemaining: workflow.Guard{
			Name:  workflow.GuardNoRetakesRemaining,
			Check: s.checkRetakesRemaining,
		},
		RetakeAuthorized: workflow.Guard{
			Name:  workflow.GuardRetakeNotAuthorized,
			Check: s.checkRetakeAuthorized,
		},
	}
}

func (s *Session) checkInterlocks(ctx context.Context) error {
	snap := s.deps.Gate.Snapshot()
	if snap.ExposureBlocked() {
		return fmt.Errorf("interlocks unsafe: %v", snap.UnsafeFlags())
	}
	return nil
}

func (s *Session) checkDoseLimits(ctx context.Context) error {
	proposed := s.sc.Protocol.MAs
	check, err := s.deps.Dose.CheckLimits(s.sc.StudyID, s.sc.Patient.PatientID, proposed)
	if err != nil {
		// Archive unreachable means the cumulative dose is unknown;
		// exposure is refused rather than risked.
		return fmt.Errorf("dose limit check unavailable: %w", err)
	}
	if !check.WithinLimits {
		return fmt.Errorf("projected dose %.1f mAs exceeds limit %.1f mAs",
			check.ProjectedCumulativeDose, check.StudyLimitMAs)
	}

	ok, err := s.deps.DoseTracker.IsWithinDoseLimits(ctx, hardware.DoseEntry{
		StudyID:   s.sc.StudyID,
		PatientID: s.sc.Patient.PatientID,
		DoseMAs:   proposed,
	})
	if err != nil {
		return fmt.Errorf("dose tracker check unavailable: %w", err)
	}
	if !ok {
		return fmt.Errorf("dose tracker refused %.1f mAs", proposed)
	}
	return nil
}

func (s *Session) checkProtocolSafe(ctx context.Context) error {
	p := s.sc.Protocol
	if p.ProtocolID == "" {
		return fmt.Errorf("no protocol selected")
	}
	if p.KVp < minProtocolKVp || p.KVp > maxProtocolKVp {
		return fmt.Errorf("kVp %.1f outside safe range [%.0f, %.0f]", p.KVp, minProtocolKVp, maxProtocolKVp)
	}
	if p.MAs <= 0 || p.MAs > maxProtocolMAs {
		return fmt.Errorf("mAs %.1f outside safe range (0, %.0f]", p.MAs, maxProtocolMAs)
	}
	if p.AECEnabled {
		snap := s.deps.Gate.Snapshot()
		if !snap.AECConfigured {
			return fmt.Errorf("protocol requires AEC but AEC is not configured")
		}
	}
	return nil
}

func (s *Session) checkRetakesRemaining(ctx context.Context) error {
	if remaining := s.deps.Retake.RetakesRemaining(s.sc); remaining <= 0 {
		return fmt.Errorf("retake budget for this study is exhausted")
	}
	return nil
}

func (s *Session) checkRetakeAuthorized(ctx context.Context) error {
	if s.sc.PendingAuthorization(s.lastRejectedIndex) == nil {
		return fmt.Errorf("no pending retake authorization for exposure %d", s.lastRejectedIndex)
	}
	return nil
}
