package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
)

func testStudy(t *testing.T) *study.Context {
	t.Helper()

	sc := study.NewContext()
	sc.Patient = study.PatientInfo{
		PatientID:       "PAT-001",
		Name:            "DOE^JANE",
		BirthDate:       "19800101",
		Sex:             "F",
		AccessionNumber: "ACC-42",
	}
	sc.Protocol = study.Protocol{
		ProtocolID:   "CHEST_PA",
		Name:         "Chest PA",
		BodyPart:     "CHEST",
		ViewPosition: "PA",
		KVp:          120,
		MAs:          3.2,
	}
	return sc
}

func testImage() *hardware.Image {
	return &hardware.Image{
		Rows:       64,
		Cols:       64,
		Pixels:     make([]uint16, 64*64),
		AcquiredAt: time.Now(),
	}
}

func TestStaticWorklist_Query(t *testing.T) {
	items := []WorklistItem{
		{Patient: study.PatientInfo{PatientID: "PAT-001", Name: "DOE^JANE"}, ScheduledProtocolID: "CHEST_PA"},
		{Patient: study.PatientInfo{PatientID: "PAT-002", Name: "ROE^RICHARD"}, ScheduledProtocolID: "ABDOMEN_AP"},
	}
	wl := NewStaticWorklist(items, zap.NewNop())

	got, err := wl.Query(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "PAT-001", got[0].Patient.PatientID)

	// The returned slice is a copy; callers must not see each other's edits.
	got[0].Patient.PatientID = "MUTATED"
	again, err := wl.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PAT-001", again[0].Patient.PatientID)
}

func TestStaticWorklist_Empty(t *testing.T) {
	wl := NewStaticWorklist(nil, zap.NewNop())

	got, err := wl.Query(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLogMppsReporter_IdempotentPerStudy(t *testing.T) {
	reporter := NewLogMppsReporter(zap.NewNop())
	sc := testStudy(t)
	idx := sc.AppendExposure(3.2, 3.84, study.ExposureAcquired)
	require.NoError(t, sc.MarkAccepted(idx))

	require.NoError(t, reporter.ReportComplete(context.Background(), sc))
	require.NoError(t, reporter.ReportComplete(context.Background(), sc))

	other := testStudy(t)
	require.NoError(t, reporter.ReportComplete(context.Background(), other))
}

func TestDicomFileExporter_ExportsAcceptedOnly(t *testing.T) {
	exporter, err := NewDicomFileExporter(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	sc := testStudy(t)
	accepted := sc.AppendExposure(3.2, 3.84, study.ExposureAcquired)
	require.NoError(t, sc.MarkAccepted(accepted))
	rejected := sc.AppendExposure(3.2, 3.84, study.ExposureAcquired)
	require.NoError(t, sc.MarkRejected(rejected, "motion blur"))
	sc.AppendExposure(0, 0, study.ExposureIncomplete)

	images := map[int]*hardware.Image{
		accepted: testImage(),
		rejected: testImage(),
	}

	exported, err := exporter.Export(context.Background(), sc, images)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, accepted, exported[0].ExposureIndex)
	assert.NotEmpty(t, exported[0].SOPInstanceUID)

	info, err := os.Stat(exported[0].Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDicomFileExporter_MissingImageForAcceptedExposure(t *testing.T) {
	exporter, err := NewDicomFileExporter(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	sc := testStudy(t)
	idx := sc.AppendExposure(3.2, 3.84, study.ExposureAcquired)
	require.NoError(t, sc.MarkAccepted(idx))

	_, err = exporter.Export(context.Background(), sc, map[int]*hardware.Image{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image available")
}

func TestDicomFileExporter_StableUIDsAcrossReExport(t *testing.T) {
	sc := testStudy(t)
	idx := sc.AppendExposure(3.2, 3.84, study.ExposureAcquired)
	require.NoError(t, sc.MarkAccepted(idx))
	images := map[int]*hardware.Image{idx: testImage()}

	first, err := NewDicomFileExporter(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	second, err := NewDicomFileExporter(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	a, err := first.Export(context.Background(), sc, images)
	require.NoError(t, err)
	b, err := second.Export(context.Background(), sc, images)
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].SOPInstanceUID, b[0].SOPInstanceUID)
}

func TestDicomFileExporter_EmptyStudyExportsNothing(t *testing.T) {
	exporter, err := NewDicomFileExporter(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	exported, err := exporter.Export(context.Background(), testStudy(t), nil)
	require.NoError(t, err)
	assert.Empty(t, exported)
}
