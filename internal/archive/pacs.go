package archive

import (
	"context"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
)

// ExportedImage describes one image handed to the PACS side
type ExportedImage struct {
	ExposureIndex  int    `json:"exposure_index"`
	SOPInstanceUID string `json:"sop_instance_uid"`
	Path           string `json:"path"`
}

// PacsExporter transmits the study's accepted images. The transmission
// protocol is an external collaborator; export must be idempotent per
// study so a crash-recovery re-entry can safely repeat it.
type PacsExporter interface {
	Export(ctx context.Context, sc *study.Context, images map[int]*hardware.Image) ([]ExportedImage, error)
}
