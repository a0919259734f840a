package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
)

// RecoveryBudget bounds startup replay. A journal that cannot be replayed
// inside this budget is treated as a recovery failure rather than a slow
// start: the console must not come up half-recovered.
const RecoveryBudget = 2 * time.Second

// safeRecoveryTargets maps an interrupted state to the state the console
// resumes in. A crash inside ExposureTrigger must never resume a live
// exposure; WorklistSync restarts from scratch. Every other state's entry
// work is selection, review, or idempotent archival and resumes in place.
var safeRecoveryTargets = map[workflow.State]workflow.State{
	workflow.StateExposureTrigger: workflow.StatePositionAndPreview,
	workflow.StateWorklistSync:    workflow.StateIdle,
}

// SafeRecoveryTarget returns the state to resume in after a crash that
// interrupted the given state
func SafeRecoveryTarget(interrupted workflow.State) workflow.State {
	if target, ok := safeRecoveryTargets[interrupted]; ok {
		return target
	}
	return interrupted
}

// RecoveredState is the result of replaying the journal at startup
type RecoveredState struct {
	Study         *study.Context
	LastSequence  uint64
	TornDiscarded bool
	Rerouted      bool
	Entries       int
	Elapsed       time.Duration
}

// ReadEntries scans the journal forward, validating checksums and sequence
// numbers. A torn trailing record (partial write from a crash mid-append)
// is discarded; corruption anywhere else is an error.
func ReadEntries(path string) ([]Entry, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer file.Close()

	var entries []Entry
	torn := false

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if torn {
			// A record after a torn one means corruption mid-file, not a
			// crashed final append.
			return nil, false, fmt.Errorf("%w: record follows torn entry", ErrCorruptEntry)
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			torn = true
			continue
		}
		if !entry.Valid() {
			torn = true
			continue
		}
		if n := len(entries); n > 0 && entry.Sequence != entries[n-1].Sequence+1 {
			return nil, false, fmt.Errorf("%w: sequence %d after %d",
				ErrCorruptEntry, entry.Sequence, entries[n-1].Sequence)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to scan journal: %w", err)
	}

	return entries, torn, nil
}

// Recover replays the journal and reconstructs the study context and
// current state by data replay only. It never re-invokes state-handler
// side effects. When the journal is empty or absent, Study is nil.
func Recover(path string, logger *zap.Logger) (*RecoveredState, error) {
	start := time.Now()

	entries, torn, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}

	result := &RecoveredState{TornDiscarded: torn, Entries: len(entries)}
	if len(entries) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	sc := study.NewContext()
	for _, entry := range entries {
		if err := apply(sc, entry); err != nil {
			return nil, fmt.Errorf("replay failed at sequence %d: %w", entry.Sequence, err)
		}
	}
	result.LastSequence = entries[len(entries)-1].Sequence

	// An ExposureTrigger entry with no completion or error record means the
	// crash interrupted a live exposure: route to the safe recovery state
	// and close out the dangling exposure record.
	target := SafeRecoveryTarget(sc.CurrentState)
	if target != sc.CurrentState {
		logger.Warn("Interrupted state rerouted to safe recovery target",
			zap.String("interrupted", sc.CurrentState.String()),
			zap.String("target", target.String()))
		if sc.CurrentState == workflow.StateExposureTrigger {
			if last := sc.LastExposure(); last != nil && last.Status == study.ExposurePending {
				_ = sc.MarkIncomplete(last.Index)
			}
		}
		sc.CurrentState = target
		result.Rerouted = true
	}

	result.Study = sc
	result.Elapsed = time.Since(start)

	if result.Elapsed > RecoveryBudget {
		return nil, fmt.Errorf("journal recovery exceeded budget: %s", result.Elapsed)
	}

	logger.Info("Journal recovery complete",
		zap.Int("entries", result.Entries),
		zap.Uint64("last_sequence", result.LastSequence),
		zap.String("state", sc.CurrentState.String()),
		zap.Bool("torn_record_discarded", torn),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

func apply(sc *study.Context, entry Entry) error {
	switch entry.Type {
	case EntryStateTransition:
		var p TransitionPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		if p.StudyID != "" {
			sc.StudyID = p.StudyID
		}
		if p.Patient != nil {
			sc.Patient = *p.Patient
		}
		if p.Protocol != nil {
			sc.Protocol = *p.Protocol
		}
		sc.CurrentState = p.To

	case EntryExposureRecorded:
		var p ExposurePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		index := sc.AppendExposure(p.DoseMAs, p.DoseAreaProd, p.Status)
		if index != p.Index {
			return fmt.Errorf("exposure index mismatch: journal %d, replay %d", p.Index, index)
		}

	case EntryImageAccepted:
		var p ReviewPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		return sc.MarkAccepted(p.Index)

	case EntryImageRejected:
		var p ReviewPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		if err := sc.MarkRejected(p.Index, p.Reason); err != nil {
			return err
		}
		// Replay restores the rejection but not its authorization: a retake
		// must be re-authorized after a crash. Fail closed.
		sc.Rejections = append(sc.Rejections, study.RejectionRecord{
			RejectionID:   p.RejectionID,
			ExposureIndex: p.Index,
			Reason:        p.Reason,
			OperatorID:    p.OperatorID,
			CreatedAt:     entry.Timestamp,
		})

	case EntryError:
		var p ErrorPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		if p.RestoredState != "" {
			sc.CurrentState = p.RestoredState
		}

	default:
		return fmt.Errorf("unknown entry type %q", entry.Type)
	}

	return nil
}
