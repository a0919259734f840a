package retake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
)

func newStudyWithExposures(n int) *study.Context {
	sc := study.NewContext()
	for i := 0; i < n; i++ {
		sc.AppendExposure(100, 4.0, study.ExposureAcquired)
	}
	return sc
}

func TestCoordinator_RecordRejection(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	auth, err := c.RecordRejection(sc, 0, "motion blur", "tech-1")
	require.NoError(t, err)

	assert.NotEmpty(t, auth.RejectionID)
	assert.Equal(t, 0, auth.ExposureIndex)
	assert.Equal(t, 3, auth.RetakesRemaining, "first rejection leaves the full study budget")
	assert.False(t, auth.Authorized)
	assert.Len(t, sc.Rejections, 1)
}

func TestCoordinator_RecordRejectionValidation(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	_, err := c.RecordRejection(sc, 5, "blur", "tech-1")
	assert.Error(t, err, "unknown exposure index")

	_, err = c.RecordRejection(sc, 0, "", "tech-1")
	assert.Error(t, err, "reason is required")

	_, err = c.RecordRejection(sc, 0, "blur", "")
	assert.Error(t, err, "operator id is required")
}

func TestCoordinator_DropRejection(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	auth, err := c.RecordRejection(sc, 0, "motion blur", "tech-1")
	require.NoError(t, err)
	require.Len(t, sc.Rejections, 1)

	require.NoError(t, c.DropRejection(sc, auth.RejectionID))
	assert.Empty(t, sc.Rejections)

	// The dropped rejection no longer spends study budget.
	again, err := c.RecordRejection(sc, 0, "motion blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.RetakesRemaining)

	err = c.DropRejection(sc, "no-such-id")
	assert.ErrorIs(t, err, ErrRejectionNotFound)
}

func TestCoordinator_StudyBudgetCountsDown(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(4)

	auth1, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 3, auth1.RetakesRemaining)

	auth2, err := c.RecordRejection(sc, 1, "positioning", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 2, auth2.RetakesRemaining)

	auth3, err := c.RecordRejection(sc, 2, "exposure", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 1, auth3.RetakesRemaining)

	auth4, err := c.RecordRejection(sc, 3, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 0, auth4.RetakesRemaining)

	// The fourth rejection recorded fine, but authorizing it must fail:
	// the budget is spent and the gate fails closed.
	_, err = c.AuthorizeRetake(sc, auth4.RejectionID, "")
	assert.ErrorIs(t, err, ErrNoRetakesRemaining)
}

func TestCoordinator_AuthorizeRetake(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	recorded, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)

	auth, err := c.AuthorizeRetake(sc, recorded.RejectionID, "")
	require.NoError(t, err)
	assert.True(t, auth.Authorized)

	require.NotNil(t, sc.PendingAuthorization(0))
}

func TestCoordinator_AuthorizeUnknownRejection(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	_, err := c.AuthorizeRetake(sc, "no-such-id", "")
	assert.ErrorIs(t, err, ErrRejectionNotFound)
}

func TestCoordinator_PerExposureBound(t *testing.T) {
	c := NewCoordinator(LimitConfiguration{
		MaxRetakesPerStudy:    10,
		MaxRetakesPerExposure: 2,
	}, zap.NewNop())
	sc := newStudyWithExposures(1)

	// Two rejections of the same exposure authorize fine; the third is
	// refused by the per-exposure bound even with study budget left.
	for i := 0; i < 2; i++ {
		recorded, err := c.RecordRejection(sc, 0, "blur", "tech-1")
		require.NoError(t, err)
		auth, err := c.AuthorizeRetake(sc, recorded.RejectionID, "")
		require.NoError(t, err)
		require.NoError(t, c.Consume(sc, auth.ExposureIndex))
	}

	recorded, err := c.RecordRejection(sc, 0, "blur again", "tech-1")
	require.NoError(t, err)

	_, err = c.AuthorizeRetake(sc, recorded.RejectionID, "")
	assert.ErrorIs(t, err, ErrExposureRetakeLimit)
}

func TestCoordinator_SupervisorRequired(t *testing.T) {
	c := NewCoordinator(LimitConfiguration{
		MaxRetakesPerStudy:    3,
		MaxRetakesPerExposure: 2,
		RequireSupervisor:     true,
	}, zap.NewNop())
	sc := newStudyWithExposures(1)

	recorded, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)

	_, err = c.AuthorizeRetake(sc, recorded.RejectionID, "")
	assert.ErrorIs(t, err, ErrSupervisorRequired)

	auth, err := c.AuthorizeRetake(sc, recorded.RejectionID, "supervisor-1")
	require.NoError(t, err)
	assert.True(t, auth.Authorized)

	rec := sc.PendingAuthorization(0)
	require.NotNil(t, rec)
	assert.Equal(t, "supervisor-1", rec.AuthorizedBy)
}

func TestCoordinator_ConsumeSpendsAuthorization(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(1)

	recorded, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)
	_, err = c.AuthorizeRetake(sc, recorded.RejectionID, "")
	require.NoError(t, err)

	require.NoError(t, c.Consume(sc, 0))
	assert.Nil(t, sc.PendingAuthorization(0))

	// One authorization admits exactly one exposure.
	assert.Error(t, c.Consume(sc, 0))
	_, err = c.AuthorizeRetake(sc, recorded.RejectionID, "")
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestCoordinator_RetakesRemaining(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), zap.NewNop())
	sc := newStudyWithExposures(4)

	assert.Equal(t, 3, c.RetakesRemaining(sc))

	// The rejection awaiting authorization does not count against the
	// budget yet: the operator sees 3 remaining after the first reject.
	_, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.RetakesRemaining(sc))

	_, err = c.RecordRejection(sc, 1, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.RetakesRemaining(sc))

	_, err = c.RecordRejection(sc, 2, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.RetakesRemaining(sc))

	_, err = c.RecordRejection(sc, 3, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.RetakesRemaining(sc), "fourth pending rejection has no budget left")
}

func TestCoordinator_ZeroBudgetFailsClosed(t *testing.T) {
	c := NewCoordinator(LimitConfiguration{
		MaxRetakesPerStudy:    0,
		MaxRetakesPerExposure: 0,
	}, zap.NewNop())
	sc := newStudyWithExposures(1)

	assert.Equal(t, 0, c.RetakesRemaining(sc))

	recorded, err := c.RecordRejection(sc, 0, "blur", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, 0, recorded.RetakesRemaining)

	_, err = c.AuthorizeRetake(sc, recorded.RejectionID, "supervisor-1")
	assert.ErrorIs(t, err, ErrNoRetakesRemaining)
}
