package dose

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LimitConfiguration holds per-study and per-patient dose limits in mAs
type LimitConfiguration struct {
	StudyLimitMAs   float64
	PatientLimitMAs float64 // 0 disables the cross-study check
	WarningFraction float64 // warning threshold as a fraction of the study limit
}

// DefaultLimits returns the stock limit configuration
func DefaultLimits() LimitConfiguration {
	return LimitConfiguration{
		StudyLimitMAs:   1000,
		PatientLimitMAs: 5000,
		WarningFraction: 0.8,
	}
}

// LimitCheck is the result of projecting a proposed exposure against the
// cumulative totals
type LimitCheck struct {
	WithinLimits             bool    `json:"within_limits"`
	WarningThresholdExceeded bool    `json:"warning_threshold_exceeded"`
	CurrentCumulativeDose    float64 `json:"current_cumulative_dose"`
	ProjectedCumulativeDose  float64 `json:"projected_cumulative_dose"`
	StudyLimitMAs            float64 `json:"study_limit_mas"`
	PatientCumulativeDose    float64 `json:"patient_cumulative_dose"`
}

// CumulativeSummary reports the running totals for one study and its patient
type CumulativeSummary struct {
	StudyID         string  `json:"study_id"`
	PatientID       string  `json:"patient_id"`
	StudyDoseMAs    float64 `json:"study_dose_mas"`
	PatientDoseMAs  float64 `json:"patient_dose_mas"`
	StudyLimitMAs   float64 `json:"study_limit_mas"`
	PatientLimitMAs float64 `json:"patient_limit_mas"`
}

// PatientStore is the persistence seam for cross-study patient dose
type PatientStore interface {
	RecordDose(patientID, studyID string, doseMAs float64) error
	CumulativeForPatient(patientID string) (float64, error)
}

// Coordinator tracks cumulative dose per study and checks proposed
// exposures against the configured limits. Totals are monotonically
// non-decreasing within a study: a rejected exposure's contribution is
// never subtracted, because the dose was delivered.
type Coordinator struct {
	cfg    LimitConfiguration
	store  PatientStore
	logger *zap.Logger

	mu          sync.Mutex
	studyTotals map[string]float64
}

// NewCoordinator creates a dose coordinator. The store may be nil when no
// cross-study tracking is configured.
func NewCoordinator(cfg LimitConfiguration, store PatientStore, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		studyTotals: make(map[string]float64),
	}
}

// CheckLimits projects the proposed exposure onto the cumulative totals.
// The study limit and, when a patient ID is known, the patient's
// cross-study limit must both hold.
func (c *Coordinator) CheckLimits(studyID, patientID string, proposedMAs float64) (LimitCheck, error) {
	if proposedMAs < 0 {
		return LimitCheck{}, fmt.Errorf("proposed dose must not be negative, got %f", proposedMAs)
	}

	current := c.StudyCumulative(studyID)
	projected := current + proposedMAs

	check := LimitCheck{
		CurrentCumulativeDose:   current,
		ProjectedCumulativeDose: projected,
		StudyLimitMAs:           c.cfg.StudyLimitMAs,
	}

	check.WithinLimits = projected <= c.cfg.StudyLimitMAs
	check.WarningThresholdExceeded = projected >= c.cfg.WarningFraction*c.cfg.StudyLimitMAs

	if c.store != nil && patientID != "" && c.cfg.PatientLimitMAs > 0 {
		patientTotal, err := c.store.CumulativeForPatient(patientID)
		if err != nil {
			// The patient archive being unreachable must not pass an exposure
			// the study check alone would pass: fail safe.
			return LimitCheck{}, fmt.Errorf("patient dose lookup failed: %w", err)
		}
		check.PatientCumulativeDose = patientTotal
		if patientTotal+proposedMAs > c.cfg.PatientLimitMAs {
			check.WithinLimits = false
		}
	}

	if check.WarningThresholdExceeded && check.WithinLimits {
		c.logger.Warn("Cumulative dose approaching study limit",
			zap.String("study_id", studyID),
			zap.Float64("projected_mas", projected),
			zap.Float64("limit_mas", c.cfg.StudyLimitMAs))
	}

	return check, nil
}

// RecordExposure adds a delivered dose to the study total and, when a
// patient ID is known, to the patient archive
func (c *Coordinator) RecordExposure(studyID, patientID string, doseMAs float64) error {
	if doseMAs < 0 {
		return fmt.Errorf("delivered dose must not be negative, got %f", doseMAs)
	}

	c.mu.Lock()
	c.studyTotals[studyID] += doseMAs
	total := c.studyTotals[studyID]
	c.mu.Unlock()

	c.logger.Info("Dose recorded",
		zap.String("study_id", studyID),
		zap.Float64("dose_mas", doseMAs),
		zap.Float64("study_cumulative_mas", total))

	if c.store != nil && patientID != "" {
		if err := c.store.RecordDose(patientID, studyID, doseMAs); err != nil {
			// The in-memory study total already includes the dose; the archive
			// write is retried by the next exposure's lookup failing safe.
			return fmt.Errorf("failed to archive dose: %w", err)
		}
	}

	return nil
}

// SeedStudyTotal restores a study's running total during crash recovery
func (c *Coordinator) SeedStudyTotal(studyID string, totalMAs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.studyTotals[studyID] = totalMAs
}

// StudyCumulative returns the running total for one study
func (c *Coordinator) StudyCumulative(studyID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.studyTotals[studyID]
}

// Summary reports the current totals for a study and its patient
func (c *Coordinator) Summary(studyID, patientID string) (CumulativeSummary, error) {
	summary := CumulativeSummary{
		StudyID:         studyID,
		PatientID:       patientID,
		StudyDoseMAs:    c.StudyCumulative(studyID),
		StudyLimitMAs:   c.cfg.StudyLimitMAs,
		PatientLimitMAs: c.cfg.PatientLimitMAs,
	}

	if c.store != nil && patientID != "" {
		patientTotal, err := c.store.CumulativeForPatient(patientID)
		if err != nil {
			return summary, fmt.Errorf("patient dose lookup failed: %w", err)
		}
		summary.PatientDoseMAs = patientTotal
	}

	return summary, nil
}
