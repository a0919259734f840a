package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
)

// EntryType identifies the kind of journal record
type EntryType string

const (
	EntryStateTransition  EntryType = "STATE_TRANSITION"
	EntryExposureRecorded EntryType = "EXPOSURE_RECORDED"
	EntryImageAccepted    EntryType = "IMAGE_ACCEPTED"
	EntryImageRejected    EntryType = "IMAGE_REJECTED"
	EntryError            EntryType = "ERROR"
)

var (
	// ErrAppendTimeout is returned when a durable append misses its budget.
	// The journal latches failed: no further exposure may be triggered.
	ErrAppendTimeout = errors.New("journal append exceeded time budget")

	// ErrJournalFailed is returned once the journal has latched failed
	ErrJournalFailed = errors.New("journal is in failed state, durable storage must be restored")

	// ErrCorruptEntry is returned when a non-trailing record fails validation
	ErrCorruptEntry = errors.New("corrupt journal entry")
)

// Entry is one append-only journal record. The checksum covers sequence,
// type, timestamp, and payload, so a partial write from a crash mid-append
// is detected and discarded on replay.
type Entry struct {
	Sequence  uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Type      EntryType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Checksum  uint32          `json:"crc"`
}

func (e *Entry) computeChecksum() uint32 {
	h := crc32.NewIEEE()
	fmt.Fprintf(h, "%d|%d|%s|", e.Sequence, e.Timestamp.UnixNano(), e.Type)
	h.Write(e.Payload)
	return h.Sum32()
}

// Valid reports whether the stored checksum matches the record contents
func (e *Entry) Valid() bool {
	return e.Checksum == e.computeChecksum()
}

// TransitionPayload is the StateTransition record body. Patient and
// Protocol ride along when the trigger carried them, so recovery can
// rebuild the study context by data replay alone.
type TransitionPayload struct {
	StudyID  string             `json:"study_id"`
	Trigger  workflow.Trigger   `json:"trigger"`
	From     workflow.State     `json:"from"`
	To       workflow.State     `json:"to"`
	Patient  *study.PatientInfo `json:"patient,omitempty"`
	Protocol *study.Protocol    `json:"protocol,omitempty"`
}

// ExposurePayload is the ExposureRecorded record body
type ExposurePayload struct {
	StudyID      string               `json:"study_id"`
	Index        int                  `json:"index"`
	DoseMAs      float64              `json:"dose_mas"`
	DoseAreaProd float64              `json:"dose_area_product"`
	Status       study.ExposureStatus `json:"status"`
}

// ReviewPayload is the ImageAccepted / ImageRejected record body
type ReviewPayload struct {
	StudyID     string `json:"study_id"`
	Index       int    `json:"index"`
	Reason      string `json:"reason,omitempty"`
	OperatorID  string `json:"operator_id,omitempty"`
	RejectionID string `json:"rejection_id,omitempty"`
}

// ErrorPayload is the Error record body, written for handler faults and
// compensating rollbacks
type ErrorPayload struct {
	StudyID       string         `json:"study_id"`
	Reason        string         `json:"reason"`
	RestoredState workflow.State `json:"restored_state,omitempty"`
}

// Journal is the append-only crash-recovery log. Every record is written
// and fsynced before the corresponding state change is treated as having
// happened; that ordering is the core crash-safety invariant and is never
// relaxed.
type Journal struct {
	mu            sync.Mutex
	file          *os.File
	path          string
	sequence      uint64
	appendTimeout time.Duration
	failed        atomic.Bool
	logger        *zap.Logger
}

// FileName is the journal file name inside the configured directory
const FileName = "journal.log"

// Open opens (or creates) the journal in dir, positioned after the last
// valid record so appended sequence numbers continue the existing log.
func Open(dir string, appendTimeout time.Duration, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	path := filepath.Join(dir, FileName)

	entries, torn, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &Journal{
		file:          file,
		path:          path,
		appendTimeout: appendTimeout,
		logger:        logger,
	}
	if n := len(entries); n > 0 {
		j.sequence = entries[n-1].Sequence
	}

	logger.Info("Journal opened",
		zap.String("path", path),
		zap.Uint64("last_sequence", j.sequence),
		zap.Bool("torn_record_discarded", torn))

	return j, nil
}

// Append writes one record and confirms it durable before returning.
// On any failure the journal latches failed and every later append is
// refused until the process is restarted against healthy storage.
func (j *Journal) Append(ctx context.Context, entryType EntryType, payload interface{}) (Entry, error) {
	if j.failed.Load() {
		return Entry{}, ErrJournalFailed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal journal payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Sequence:  j.sequence + 1,
		Timestamp: time.Now(),
		Type:      entryType,
		Payload:   raw,
	}
	entry.Checksum = entry.computeChecksum()

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	done := make(chan error, 1)
	go func() {
		if _, werr := j.file.Write(line); werr != nil {
			done <- werr
			return
		}
		done <- j.file.Sync()
	}()

	timer := time.NewTimer(j.appendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			j.failed.Store(true)
			j.logger.Error("Journal append failed, latching failed state", zap.Error(err))
			return Entry{}, fmt.Errorf("journal append failed: %w", err)
		}
	case <-timer.C:
		j.failed.Store(true)
		j.logger.Error("Journal append exceeded budget, latching failed state",
			zap.Duration("budget", j.appendTimeout))
		return Entry{}, ErrAppendTimeout
	case <-ctx.Done():
		j.failed.Store(true)
		return Entry{}, fmt.Errorf("journal append cancelled: %w", ctx.Err())
	}

	j.sequence = entry.Sequence
	return entry, nil
}

// Failed reports whether the journal has latched the failed state
func (j *Journal) Failed() bool {
	return j.failed.Load()
}

// Sequence returns the last durable sequence number
func (j *Journal) Sequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

// Checkpoint truncates the journal after a study reaches Completed: the
// archived study no longer needs replay, and the next study starts from
// an empty log.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync truncated journal: %w", err)
	}

	j.sequence = 0
	j.logger.Info("Journal checkpointed")
	return nil
}

// Close closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
