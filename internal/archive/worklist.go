package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
)

// WorklistItem is one scheduled procedure from the modality worklist
type WorklistItem struct {
	Patient             study.PatientInfo `json:"patient"`
	ScheduledProtocolID string            `json:"scheduled_protocol_id"`
	ScheduledAt         time.Time         `json:"scheduled_at"`
}

// WorklistProvider is the RIS worklist capability interface. The wire
// protocol behind it is out of scope; a lookup failure degrades the
// workflow locally rather than blocking it.
type WorklistProvider interface {
	Query(ctx context.Context) ([]WorklistItem, error)
}

// StaticWorklist serves a fixed worklist, used by the simulator wiring
// and tests
type StaticWorklist struct {
	items  []WorklistItem
	logger *zap.Logger
}

// NewStaticWorklist creates a provider over a fixed item list
func NewStaticWorklist(items []WorklistItem, logger *zap.Logger) *StaticWorklist {
	return &StaticWorklist{items: items, logger: logger}
}

// Query returns the configured items
func (w *StaticWorklist) Query(ctx context.Context) ([]WorklistItem, error) {
	w.logger.Debug("Worklist queried", zap.Int("items", len(w.items)))
	return append([]WorklistItem(nil), w.items...), nil
}
