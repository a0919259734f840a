package archive

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
)

const (
	transferSyntaxExplicitLE = "1.2.840.10008.1.2.1"
	sopClassDigitalXRay      = "1.2.840.10008.5.1.4.1.1.1.1"
	uidRoot                  = "1.2.826.0.1.3680043.8.498"
)

// DicomFileExporter writes each accepted exposure as a DX DICOM file in
// the export directory. It implements PacsExporter; the network send to
// the PACS node is handled outside this process.
type DicomFileExporter struct {
	outputDir string
	logger    *zap.Logger
}

// NewDicomFileExporter creates an exporter writing into outputDir
func NewDicomFileExporter(outputDir string, logger *zap.Logger) (*DicomFileExporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &DicomFileExporter{outputDir: outputDir, logger: logger}, nil
}

// Export writes one file per accepted exposure and returns what was
// written. Rejected and incomplete exposures are not exported.
func (e *DicomFileExporter) Export(ctx context.Context, sc *study.Context, images map[int]*hardware.Image) ([]ExportedImage, error) {
	studyUID := deterministicUID(sc.StudyID)
	seriesUID := deterministicUID(sc.StudyID + "/series/1")

	var exported []ExportedImage
	instanceNumber := 0
	for _, rec := range sc.Exposures {
		if rec.Status != study.ExposureAccepted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return exported, err
		}

		img, ok := images[rec.Index]
		if !ok || img == nil {
			return exported, fmt.Errorf("no image available for accepted exposure %d", rec.Index)
		}

		instanceNumber++
		sopInstanceUID := deterministicUID(fmt.Sprintf("%s/instance/%d", sc.StudyID, rec.Index))

		ds, err := e.buildDataset(sc, rec, img, studyUID, seriesUID, sopInstanceUID, instanceNumber)
		if err != nil {
			return exported, fmt.Errorf("failed to build dataset for exposure %d: %w", rec.Index, err)
		}

		filename := fmt.Sprintf("IMG%04d.dcm", instanceNumber)
		path := filepath.Join(e.outputDir, filename)
		if err := writeDataset(path, ds); err != nil {
			return exported, fmt.Errorf("failed to write %s: %w", path, err)
		}

		exported = append(exported, ExportedImage{
			ExposureIndex:  rec.Index,
			SOPInstanceUID: sopInstanceUID,
			Path:           path,
		})
	}

	e.logger.Info("Study exported",
		zap.String("study_id", sc.StudyID),
		zap.Int("images", len(exported)),
		zap.String("dir", e.outputDir))

	return exported, nil
}

func (e *DicomFileExporter) buildDataset(
	sc *study.Context,
	rec study.ExposureRecord,
	img *hardware.Image,
	studyUID, seriesUID, sopInstanceUID string,
	instanceNumber int,
) (dicom.Dataset, error) {
	studyDate := sc.CreatedAt.Format("20060102")
	studyTime := sc.CreatedAt.Format("150405")

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{transferSyntaxExplicitLE}),
		// Patient module
		mustNewElement(tag.PatientName, []string{sc.Patient.Name}),
		mustNewElement(tag.PatientID, []string{sc.Patient.PatientID}),
		mustNewElement(tag.PatientBirthDate, []string{sc.Patient.BirthDate}),
		mustNewElement(tag.PatientSex, []string{sc.Patient.Sex}),
		// Study module
		mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
		mustNewElement(tag.StudyDate, []string{studyDate}),
		mustNewElement(tag.StudyTime, []string{studyTime}),
		mustNewElement(tag.StudyDescription, []string{sc.Protocol.Name}),
		mustNewElement(tag.AccessionNumber, []string{sc.Patient.AccessionNumber}),
		// Series module
		mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
		mustNewElement(tag.SeriesNumber, []string{"1"}),
		mustNewElement(tag.Modality, []string{"DX"}),
		mustNewElement(tag.BodyPartExamined, []string{sc.Protocol.BodyPart}),
		// Instance module
		mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.SOPClassUID, []string{sopClassDigitalXRay}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instanceNumber)}),
		// Technique
		mustNewElement(tag.KVP, []string{fmt.Sprintf("%.1f", sc.Protocol.KVp)}),
		mustNewElement(tag.ExposureInuAs, []string{fmt.Sprintf("%.0f", rec.DoseMAs*1000)}),
		// Image pixel module
		mustNewElement(tag.Rows, []int{img.Rows}),
		mustNewElement(tag.Columns, []int{img.Cols}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{16}),
		mustNewElement(tag.HighBit, []int{15}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}

	nativeFrame := frame.NewNativeFrame[uint16](16, img.Rows, img.Cols, img.Rows*img.Cols, 1)
	copy(nativeFrame.RawData, img.Pixels)

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}
	elements = append(elements, mustNewElement(tag.PixelData, pixelDataInfo))

	return dicom.Dataset{Elements: elements}, nil
}

func writeDataset(path string, ds dicom.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return dicom.Write(f, ds)
}

func mustNewElement(t tag.Tag, data interface{}) *dicom.Element {
	element, err := dicom.NewElement(t, data)
	if err != nil {
		panic(fmt.Sprintf("failed to create DICOM element %v: %v", t, err))
	}
	return element
}

// deterministicUID derives a stable UID from a seed, so re-export after
// crash recovery produces the same instance UIDs and the PACS side can
// deduplicate.
func deterministicUID(seed string) string {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return fmt.Sprintf("%s.%d", uidRoot, h.Sum64())
}
