package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
)

// MppsReporter confirms procedure-step completion to the RIS. The MPPS
// wire protocol itself is an external collaborator; reporting must be
// idempotent per study so a crash-recovery re-entry can safely repeat it.
type MppsReporter interface {
	ReportComplete(ctx context.Context, sc *study.Context) error
}

// LogMppsReporter records the completion locally. It stands in for the
// RIS-facing implementation in simulator mode.
type LogMppsReporter struct {
	logger   *zap.Logger
	reported map[string]bool
}

// NewLogMppsReporter creates a reporter that logs completions
func NewLogMppsReporter(logger *zap.Logger) *LogMppsReporter {
	return &LogMppsReporter{
		logger:   logger,
		reported: make(map[string]bool),
	}
}

// ReportComplete logs the MPPS completion once per study
func (r *LogMppsReporter) ReportComplete(ctx context.Context, sc *study.Context) error {
	if r.reported[sc.StudyID] {
		return nil
	}
	r.reported[sc.StudyID] = true

	accepted := 0
	for _, rec := range sc.Exposures {
		if rec.Status == study.ExposureAccepted {
			accepted++
		}
	}

	r.logger.Info("MPPS procedure step complete",
		zap.String("study_id", sc.StudyID),
		zap.String("patient_id", sc.Patient.PatientID),
		zap.Int("accepted_exposures", accepted),
		zap.Float64("cumulative_dose_mas", sc.CumulativeDoseMAs()))
	return nil
}
