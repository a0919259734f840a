package study

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
)

// ExposureStatus is the lifecycle status of a single exposure
type ExposureStatus string

const (
	ExposurePending    ExposureStatus = "PENDING"
	ExposureAcquired   ExposureStatus = "ACQUIRED"
	ExposureAccepted   ExposureStatus = "ACCEPTED"
	ExposureRejected   ExposureStatus = "REJECTED"
	ExposureIncomplete ExposureStatus = "INCOMPLETE"
)

// PatientInfo identifies the patient under examination
type PatientInfo struct {
	PatientID       string `json:"patient_id"`
	Name            string `json:"name"`
	BirthDate       string `json:"birth_date"`
	Sex             string `json:"sex"`
	AccessionNumber string `json:"accession_number"`
}

// Protocol is the selected exposure protocol
type Protocol struct {
	ProtocolID   string  `json:"protocol_id"`
	Name         string  `json:"name"`
	BodyPart     string  `json:"body_part"`
	ViewPosition string  `json:"view_position"`
	KVp          float64 `json:"kvp"`
	MAs          float64 `json:"mas"`
	AECEnabled   bool    `json:"aec_enabled"`
}

// ExposureRecord is one exposure within a study. Its dose contribution
// stays in the cumulative total for every status, including Rejected.
type ExposureRecord struct {
	Index        int            `json:"index"`
	Status       ExposureStatus `json:"status"`
	DoseMAs      float64        `json:"dose_mas"`
	DoseAreaProd float64        `json:"dose_area_product"`
	RejectReason string         `json:"reject_reason,omitempty"`
	AcquiredAt   time.Time      `json:"acquired_at"`
	ReviewedAt   time.Time      `json:"reviewed_at,omitempty"`
}

// RejectionRecord tracks one QC rejection and its retake authorization
type RejectionRecord struct {
	RejectionID   string    `json:"rejection_id"`
	ExposureIndex int       `json:"exposure_index"`
	Reason        string    `json:"reason"`
	OperatorID    string    `json:"operator_id"`
	Authorized    bool      `json:"authorized"`
	AuthorizedBy  string    `json:"authorized_by,omitempty"`
	Consumed      bool      `json:"consumed"`
	CreatedAt     time.Time `json:"created_at"`
}

// Context owns all state for one active study. It is mutated only by the
// session layer inside the transition lock; external readers get a
// Snapshot copy.
type Context struct {
	StudyID      string            `json:"study_id"`
	Patient      PatientInfo       `json:"patient"`
	Protocol     Protocol          `json:"protocol"`
	Exposures    []ExposureRecord  `json:"exposures"`
	Rejections   []RejectionRecord `json:"rejections"`
	CurrentState workflow.State    `json:"current_state"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewContext creates a study context in the Idle state
func NewContext() *Context {
	return &Context{
		StudyID:      uuid.NewString(),
		CurrentState: workflow.StateIdle,
		CreatedAt:    time.Now(),
	}
}

// AppendExposure records a newly triggered exposure and returns its index
func (c *Context) AppendExposure(doseMAs, doseAreaProd float64, status ExposureStatus) int {
	index := len(c.Exposures)
	c.Exposures = append(c.Exposures, ExposureRecord{
		Index:        index,
		Status:       status,
		DoseMAs:      doseMAs,
		DoseAreaProd: doseAreaProd,
		AcquiredAt:   time.Now(),
	})
	return index
}

// Exposure returns the record at index
func (c *Context) Exposure(index int) (*ExposureRecord, error) {
	if index < 0 || index >= len(c.Exposures) {
		return nil, fmt.Errorf("exposure index %d out of range (count %d)", index, len(c.Exposures))
	}
	return &c.Exposures[index], nil
}

// LastExposure returns the most recent exposure record, or nil
func (c *Context) LastExposure() *ExposureRecord {
	if len(c.Exposures) == 0 {
		return nil
	}
	return &c.Exposures[len(c.Exposures)-1]
}

// LastAcquiredIndex returns the index of the most recent exposure still
// awaiting QC review
func (c *Context) LastAcquiredIndex() (int, error) {
	for i := len(c.Exposures) - 1; i >= 0; i-- {
		if c.Exposures[i].Status == ExposureAcquired {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no acquired exposure awaiting review")
}

// MarkAccepted marks the exposure at index as accepted after QC review
func (c *Context) MarkAccepted(index int) error {
	rec, err := c.Exposure(index)
	if err != nil {
		return err
	}
	rec.Status = ExposureAccepted
	rec.ReviewedAt = time.Now()
	return nil
}

// MarkRejected marks the exposure at index as rejected. The dose
// contribution is not touched: delivered dose is never erased.
func (c *Context) MarkRejected(index int, reason string) error {
	rec, err := c.Exposure(index)
	if err != nil {
		return err
	}
	rec.Status = ExposureRejected
	rec.RejectReason = reason
	rec.ReviewedAt = time.Now()
	return nil
}

// MarkIncomplete marks an exposure whose acquisition was aborted
func (c *Context) MarkIncomplete(index int) error {
	rec, err := c.Exposure(index)
	if err != nil {
		return err
	}
	rec.Status = ExposureIncomplete
	rec.ReviewedAt = time.Now()
	return nil
}

// CumulativeDoseMAs sums the dose contribution of every exposure in the
// study. Rejected and incomplete exposures still count: the dose was
// delivered to the patient.
func (c *Context) CumulativeDoseMAs() float64 {
	var total float64
	for _, rec := range c.Exposures {
		total += rec.DoseMAs
	}
	return total
}

// RejectionsForExposure counts rejections recorded against one index
func (c *Context) RejectionsForExposure(index int) int {
	count := 0
	for _, rej := range c.Rejections {
		if rej.ExposureIndex == index {
			count++
		}
	}
	return count
}

// PendingAuthorization returns the authorized, unconsumed rejection for
// the given exposure index, or nil
func (c *Context) PendingAuthorization(index int) *RejectionRecord {
	for i := range c.Rejections {
		rej := &c.Rejections[i]
		if rej.ExposureIndex == index && rej.Authorized && !rej.Consumed {
			return rej
		}
	}
	return nil
}

// Snapshot returns a deep copy safe to hand to external readers
func (c *Context) Snapshot() Context {
	cp := *c
	cp.Exposures = append([]ExposureRecord(nil), c.Exposures...)
	cp.Rejections = append([]RejectionRecord(nil), c.Rejections...)
	return cp
}
