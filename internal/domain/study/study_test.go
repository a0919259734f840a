package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	sc := NewContext()

	assert.NotEmpty(t, sc.StudyID)
	assert.Empty(t, sc.Exposures)
	assert.Empty(t, sc.Rejections)

	sc2 := NewContext()
	assert.NotEqual(t, sc.StudyID, sc2.StudyID)
}

func TestContext_AppendExposure(t *testing.T) {
	sc := NewContext()

	idx := sc.AppendExposure(120, 4.5, ExposureAcquired)
	assert.Equal(t, 0, idx)

	idx = sc.AppendExposure(80, 3.1, ExposurePending)
	assert.Equal(t, 1, idx)

	rec, err := sc.Exposure(0)
	require.NoError(t, err)
	assert.Equal(t, 120.0, rec.DoseMAs)
	assert.Equal(t, ExposureAcquired, rec.Status)

	_, err = sc.Exposure(5)
	assert.Error(t, err)
}

func TestContext_ReviewMarking(t *testing.T) {
	sc := NewContext()
	sc.AppendExposure(100, 4.0, ExposureAcquired)
	sc.AppendExposure(90, 3.5, ExposureAcquired)

	require.NoError(t, sc.MarkAccepted(0))
	require.NoError(t, sc.MarkRejected(1, "motion blur"))

	rec0, _ := sc.Exposure(0)
	rec1, _ := sc.Exposure(1)
	assert.Equal(t, ExposureAccepted, rec0.Status)
	assert.Equal(t, ExposureRejected, rec1.Status)
	assert.Equal(t, "motion blur", rec1.RejectReason)
	assert.False(t, rec1.ReviewedAt.IsZero())

	assert.Error(t, sc.MarkAccepted(7))
}

func TestContext_CumulativeDoseIncludesRejectedAndIncomplete(t *testing.T) {
	sc := NewContext()
	sc.AppendExposure(100, 4.0, ExposureAcquired)
	sc.AppendExposure(50, 2.0, ExposureAcquired)
	sc.AppendExposure(25, 1.0, ExposurePending)

	require.NoError(t, sc.MarkRejected(1, "positioning"))
	require.NoError(t, sc.MarkIncomplete(2))

	// Delivered dose is never erased by rejection or abort.
	assert.Equal(t, 175.0, sc.CumulativeDoseMAs())
}

func TestContext_LastAcquiredIndex(t *testing.T) {
	sc := NewContext()

	_, err := sc.LastAcquiredIndex()
	assert.Error(t, err, "no exposures yet")

	sc.AppendExposure(100, 4.0, ExposureAcquired)
	sc.AppendExposure(90, 3.5, ExposureAcquired)

	idx, err := sc.LastAcquiredIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, sc.MarkRejected(1, "blur"))
	idx, err = sc.LastAcquiredIndex()
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "rejected exposure is no longer under review")
}

func TestContext_PendingAuthorization(t *testing.T) {
	sc := NewContext()
	sc.Rejections = append(sc.Rejections, RejectionRecord{
		RejectionID:   "r-1",
		ExposureIndex: 0,
		Authorized:    false,
	})

	assert.Nil(t, sc.PendingAuthorization(0), "unauthorized rejection is not pending")

	sc.Rejections[0].Authorized = true
	require.NotNil(t, sc.PendingAuthorization(0))

	sc.Rejections[0].Consumed = true
	assert.Nil(t, sc.PendingAuthorization(0), "consumed authorization is spent")
}

func TestContext_RejectionsForExposure(t *testing.T) {
	sc := NewContext()
	sc.Rejections = append(sc.Rejections,
		RejectionRecord{RejectionID: "r-1", ExposureIndex: 0},
		RejectionRecord{RejectionID: "r-2", ExposureIndex: 0},
		RejectionRecord{RejectionID: "r-3", ExposureIndex: 2},
	)

	assert.Equal(t, 2, sc.RejectionsForExposure(0))
	assert.Equal(t, 0, sc.RejectionsForExposure(1))
	assert.Equal(t, 1, sc.RejectionsForExposure(2))
}

func TestContext_SnapshotIsDeepCopy(t *testing.T) {
	sc := NewContext()
	sc.Patient = PatientInfo{PatientID: "P001", Name: "DOE^JANE"}
	sc.AppendExposure(100, 4.0, ExposureAcquired)

	snap := sc.Snapshot()
	snap.Exposures[0].DoseMAs = 999
	snap.Patient.PatientID = "CHANGED"

	rec, _ := sc.Exposure(0)
	assert.Equal(t, 100.0, rec.DoseMAs, "snapshot mutation must not leak back")
	assert.Equal(t, "P001", sc.Patient.PatientID)
}
