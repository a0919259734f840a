package retake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
)

var (
	// ErrRejectionNotFound is returned when no rejection matches the given id
	ErrRejectionNotFound = errors.New("rejection record not found")

	// ErrNoRetakesRemaining is returned when the study retake budget is exhausted
	ErrNoRetakesRemaining = errors.New("no retakes remaining")

	// ErrExposureRetakeLimit is returned when one exposure index has hit its
	// per-exposure retake bound
	ErrExposureRetakeLimit = errors.New("per-exposure retake limit reached")

	// ErrSupervisorRequired is returned when supervisor authorization is
	// configured and no supervisor id was supplied
	ErrSupervisorRequired = errors.New("supervisor authorization required")

	// ErrAlreadyConsumed is returned when the authorization was already spent
	ErrAlreadyConsumed = errors.New("retake authorization already consumed")
)

// LimitConfiguration bounds how many retakes a study permits
type LimitConfiguration struct {
	MaxRetakesPerStudy    int
	MaxRetakesPerExposure int
	RequireSupervisor     bool
}

// DefaultLimits returns the stock retake limits
func DefaultLimits() LimitConfiguration {
	return LimitConfiguration{
		MaxRetakesPerStudy:    3,
		MaxRetakesPerExposure: 2,
		RequireSupervisor:     false,
	}
}

// Authorization is the operator-facing view of one rejection's retake state
type Authorization struct {
	RejectionID      string `json:"rejection_id"`
	ExposureIndex    int    `json:"exposure_index"`
	RetakesRemaining int    `json:"retakes_remaining"`
	Authorized       bool   `json:"authorized"`
	Consumed         bool   `json:"consumed"`
}

// Coordinator keeps rejection bookkeeping and authorizes retakes. Every
// decision fails closed: when in doubt, no re-exposure.
type Coordinator struct {
	cfg    LimitConfiguration
	logger *zap.Logger
}

// NewCoordinator creates a retake coordinator
func NewCoordinator(cfg LimitConfiguration, logger *zap.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, logger: logger}
}

// RecordRejection creates a rejection record for the exposure at index.
// RetakesRemaining is the study budget minus retakes already spent before
// this rejection; the per-exposure bound is enforced separately at
// authorization time. The rejected exposure's dose stays in the cumulative
// total; rejection never erases delivered dose.
func (c *Coordinator) RecordRejection(sc *study.Context, exposureIndex int, reason, operatorID string) (Authorization, error) {
	if _, err := sc.Exposure(exposureIndex); err != nil {
		return Authorization{}, err
	}
	if reason == "" {
		return Authorization{}, fmt.Errorf("rejection reason is required")
	}
	if operatorID == "" {
		return Authorization{}, fmt.Errorf("operator id is required")
	}

	priorRetakes := len(sc.Rejections)

	record := study.RejectionRecord{
		RejectionID:   uuid.NewString(),
		ExposureIndex: exposureIndex,
		Reason:        reason,
		OperatorID:    operatorID,
		CreatedAt:     time.Now(),
	}
	sc.Rejections = append(sc.Rejections, record)

	remaining := c.studyRemaining(priorRetakes)

	c.logger.Info("Exposure rejected",
		zap.String("study_id", sc.StudyID),
		zap.Int("exposure_index", exposureIndex),
		zap.String("reason", reason),
		zap.String("operator_id", operatorID),
		zap.Int("retakes_remaining", remaining))

	return Authorization{
		RejectionID:      record.RejectionID,
		ExposureIndex:    exposureIndex,
		RetakesRemaining: remaining,
	}, nil
}

// DropRejection removes the rejection record with the given id. Used to
// unwind a rejection that could not be made durable, so the in-memory
// bookkeeping never runs ahead of the journal.
func (c *Coordinator) DropRejection(sc *study.Context, rejectionID string) error {
	for i := range sc.Rejections {
		if sc.Rejections[i].RejectionID == rejectionID {
			sc.Rejections = append(sc.Rejections[:i], sc.Rejections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRejectionNotFound, rejectionID)
}

// RetakesRemaining returns the study-level retake budget left, not
// counting the rejection currently awaiting authorization
func (c *Coordinator) RetakesRemaining(sc *study.Context) int {
	prior := len(sc.Rejections)
	if prior > 0 {
		prior--
	}
	return c.studyRemaining(prior)
}

func (c *Coordinator) studyRemaining(priorRetakes int) int {
	remaining := c.cfg.MaxRetakesPerStudy - priorRetakes
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// AuthorizeRetake marks the rejection as authorized for re-exposure. It
// denies unless study retakes remain, the exposure's per-exposure bound
// holds, and, when configured, a supervisor id is present.
func (c *Coordinator) AuthorizeRetake(sc *study.Context, rejectionID, supervisorID string) (Authorization, error) {
	position := -1
	for i := range sc.Rejections {
		if sc.Rejections[i].RejectionID == rejectionID {
			position = i
			break
		}
	}
	if position < 0 {
		return Authorization{}, fmt.Errorf("%w: %s", ErrRejectionNotFound, rejectionID)
	}
	record := &sc.Rejections[position]

	if record.Consumed {
		return Authorization{}, fmt.Errorf("%w: %s", ErrAlreadyConsumed, rejectionID)
	}

	remaining := c.studyRemaining(position)
	if remaining <= 0 {
		return Authorization{}, fmt.Errorf("%w: study %s", ErrNoRetakesRemaining, sc.StudyID)
	}

	priorForExposure := 0
	for i := 0; i < position; i++ {
		if sc.Rejections[i].ExposureIndex == record.ExposureIndex {
			priorForExposure++
		}
	}
	if priorForExposure >= c.cfg.MaxRetakesPerExposure {
		return Authorization{}, fmt.Errorf("%w: exposure %d", ErrExposureRetakeLimit, record.ExposureIndex)
	}

	if c.cfg.RequireSupervisor && supervisorID == "" {
		return Authorization{}, ErrSupervisorRequired
	}

	record.Authorized = true
	record.AuthorizedBy = supervisorID

	c.logger.Info("Retake authorized",
		zap.String("study_id", sc.StudyID),
		zap.String("rejection_id", rejectionID),
		zap.Int("exposure_index", record.ExposureIndex),
		zap.String("supervisor_id", supervisorID),
		zap.Int("retakes_remaining", remaining))

	return Authorization{
		RejectionID:      record.RejectionID,
		ExposureIndex:    record.ExposureIndex,
		RetakesRemaining: remaining,
		Authorized:       true,
	}, nil
}

// Consume spends the pending authorization for the exposure at index.
// Called when the retake transition commits, so the same authorization
// cannot admit two exposures.
func (c *Coordinator) Consume(sc *study.Context, exposureIndex int) error {
	record := sc.PendingAuthorization(exposureIndex)
	if record == nil {
		return fmt.Errorf("%w: no pending authorization for exposure %d", ErrRejectionNotFound, exposureIndex)
	}
	record.Consumed = true
	return nil
}
