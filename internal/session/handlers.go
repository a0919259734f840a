package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
	"github.com/holee9/hnvue-console-sub002/internal/eventbus"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
	"github.com/holee9/hnvue-console-sub002/internal/interlock"
	"github.com/holee9/hnvue-console-sub002/internal/journal"
)

// worklistQueryTimeout bounds the modality-worklist query on study start.
// A slow or unreachable RIS must not wedge the workflow.
const worklistQueryTimeout = 2 * time.Second

func (s *Session) entryHandlers() map[workflow.State]entryHandler {
	return map[workflow.State]entryHandler{
		workflow.StateWorklistSync:       s.enterWorklistSync,
		workflow.StatePositionAndPreview: s.enterPositionAndPreview,
		workflow.StateExposureTrigger:    s.enterExposureTrigger,
		workflow.StateMppsComplete:       s.enterMppsComplete,
		workflow.StatePacsExport:         s.enterPacsExport,
		workflow.StateCompleted:          s.enterCompleted,
	}
}

// enterWorklistSync queries the modality worklist. On success the
// workflow advances to patient selection; on failure it stays put so the
// operator can take the emergency-bypass edge.
func (s *Session) enterWorklistSync(ctx context.Context, _ Input) (workflow.Trigger, error) {
	queryCtx, cancel := context.WithTimeout(ctx, worklistQueryTimeout)
	defer cancel()

	items, err := s.deps.Worklist.Query(queryCtx)
	if err != nil {
		s.logger.Warn("Worklist query failed, awaiting operator bypass", zap.Error(err))
		return "", nil
	}

	s.worklistItems = items
	s.logger.Info("Worklist synchronized", zap.Int("items", len(items)))
	return workflow.TriggerWorklistSynced, nil
}

// enterPositionAndPreview asks the generator to prepare. A prepare fault
// does not roll the transition back: the interlock gate keeps the
// exposure blocked until the generator actually reports ready.
func (s *Session) enterPositionAndPreview(ctx context.Context, _ Input) (workflow.Trigger, error) {
	if err := s.deps.Generator.Prepare(ctx); err != nil {
		s.logger.Warn("Generator prepare failed during positioning", zap.Error(err))
	}
	return "", nil
}

// enterExposureTrigger runs the acquisition sequence: arm the detector,
// start the interlock watchdog, fire the generator, record the delivered
// dose, and collect the frame. Completion hands the workflow to QC
// review; an interlock breach or operator abort takes the declared abort
// edge back to positioning.
func (s *Session) enterExposureTrigger(ctx context.Context, _ Input) (workflow.Trigger, error) {
	// The generator drops back to standby after every exposure, so the
	// retake edge arrives here unprepared.
	if s.deps.Generator.Status() != hardware.GeneratorReady {
		if err := s.deps.Generator.Prepare(ctx); err != nil {
			return "", fmt.Errorf("generator failed to prepare: %w", err)
		}
	}

	if err := s.deps.Detector.StartAcquisition(ctx); err != nil {
		return "", fmt.Errorf("detector failed to arm: %w", err)
	}

	params := hardware.ExposureParams{
		KVp:          s.sc.Protocol.KVp,
		MAs:          s.sc.Protocol.MAs,
		AECEnabled:   s.sc.Protocol.AECEnabled,
		BodyPart:     s.sc.Protocol.BodyPart,
		ViewPosition: s.sc.Protocol.ViewPosition,
	}

	index := s.sc.AppendExposure(0, 0, study.ExposurePending)

	// The watchdog re-checks every interlock for the whole beam-on
	// window and slams the generator off if any flag drops.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go s.deps.Watchdog.Watch(watchCtx, func(snap interlock.Status) {
		s.logger.Error("Interlock breach during exposure, aborting",
			zap.Any("unsafe_flags", snap.UnsafeFlags()))
		abortCtx, cancel := context.WithTimeout(context.Background(), s.cfg.AbortBudget)
		defer cancel()
		_ = s.deps.Generator.AbortExposure(abortCtx)
	})

	result, err := s.deps.Generator.TriggerExposure(ctx, params)
	cancelWatch()
	if err != nil {
		return s.finishAbortedExposure(ctx, index, result, err)
	}

	if rec, recErr := s.sc.Exposure(index); recErr == nil {
		rec.Status = study.ExposureAcquired
		rec.DoseMAs = result.DeliveredMAs
		rec.DoseAreaProd = result.DoseAreaProd
		rec.AcquiredAt = time.Now()
	}

	if _, err := s.deps.Journal.Append(ctx, journal.EntryExposureRecorded, journal.ExposurePayload{
		StudyID:      s.sc.StudyID,
		Index:        index,
		DoseMAs:      result.DeliveredMAs,
		DoseAreaProd: result.DoseAreaProd,
		Status:       study.ExposureAcquired,
	}); err != nil {
		// Dose was delivered but cannot be made durable. The in-memory
		// record keeps it; the fatal latch refuses further exposures.
		s.logger.Error("Failed to journal delivered exposure", zap.Error(err))
	}

	s.recordDeliveredDose(ctx, result.DeliveredMAs)

	image, imgErr := s.deps.Detector.AcquiredImage(ctx)
	if imgErr != nil {
		s.logger.Warn("Detector returned no image for delivered exposure", zap.Error(imgErr))
	} else {
		s.images[index] = image
	}

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeExposureRecorded, s.sc.StudyID, map[string]interface{}{
		"exposure_index":    index,
		"delivered_mas":     result.DeliveredMAs,
		"dose_area_product": result.DoseAreaProd,
		"duration_ms":       result.Duration.Milliseconds(),
	}))

	return workflow.TriggerExposureComplete, nil
}

// finishAbortedExposure records whatever dose was delivered before the
// beam stopped and routes the workflow down the abort edge
func (s *Session) finishAbortedExposure(ctx context.Context, index int, result hardware.ExposureResult, cause error) (workflow.Trigger, error) {
	if err := s.sc.MarkIncomplete(index); err != nil {
		s.logger.Error("Failed to mark aborted exposure incomplete", zap.Error(err))
	}
	if rec, err := s.sc.Exposure(index); err == nil {
		rec.DoseMAs = result.DeliveredMAs
		rec.DoseAreaProd = result.DoseAreaProd
	}

	if _, err := s.deps.Journal.Append(ctx, journal.EntryExposureRecorded, journal.ExposurePayload{
		StudyID:      s.sc.StudyID,
		Index:        index,
		DoseMAs:      result.DeliveredMAs,
		DoseAreaProd: result.DoseAreaProd,
		Status:       study.ExposureIncomplete,
	}); err != nil {
		s.logger.Error("Failed to journal aborted exposure", zap.Error(err))
	}

	if result.DeliveredMAs > 0 {
		s.recordDeliveredDose(ctx, result.DeliveredMAs)
	}

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeExposureAborted, s.sc.StudyID, map[string]interface{}{
		"exposure_index": index,
		"delivered_mas":  result.DeliveredMAs,
		"reason":         cause.Error(),
	}))

	if errors.Is(cause, hardware.ErrExposureAborted) {
		return workflow.TriggerExposureAborted, cause
	}
	return workflow.TriggerExposureAborted, fmt.Errorf("exposure fault: %w", cause)
}

// recordDeliveredDose books delivered dose with the coordinator and the
// hardware-side tracker. Delivered dose is never un-booked.
func (s *Session) recordDeliveredDose(ctx context.Context, doseMAs float64) {
	if doseMAs <= 0 {
		return
	}
	if err := s.deps.Dose.RecordExposure(s.sc.StudyID, s.sc.Patient.PatientID, doseMAs); err != nil {
		s.logger.Error("Failed to record dose with coordinator", zap.Error(err))
	}
	if err := s.deps.DoseTracker.RecordDose(ctx, hardware.DoseEntry{
		StudyID:   s.sc.StudyID,
		PatientID: s.sc.Patient.PatientID,
		DoseMAs:   doseMAs,
	}); err != nil {
		s.logger.Error("Failed to record dose with hardware tracker", zap.Error(err))
	}
}

// enterMppsComplete reports the performed procedure step. On failure the
// workflow stays in MppsComplete so the step can be retried without
// blocking the console.
func (s *Session) enterMppsComplete(ctx context.Context, _ Input) (workflow.Trigger, error) {
	if err := s.deps.Mpps.ReportComplete(ctx, s.sc); err != nil {
		s.logger.Warn("MPPS completion report failed, will retry on operator trigger", zap.Error(err))
		return "", nil
	}
	return workflow.TriggerMppsDone, nil
}

// enterPacsExport writes the accepted images to the archive. Export is
// idempotent per SOP instance, so a retried export does not duplicate.
func (s *Session) enterPacsExport(ctx context.Context, _ Input) (workflow.Trigger, error) {
	exported, err := s.deps.Pacs.Export(ctx, s.sc, s.images)
	if err != nil {
		s.logger.Warn("PACS export failed, will retry on operator trigger", zap.Error(err))
		return "", nil
	}
	s.logger.Info("Study exported to PACS", zap.Int("images", len(exported)))
	return workflow.TriggerExported, nil
}

// enterCompleted checkpoints the journal: the study outcome is fully
// persisted downstream, so the replay log can start fresh
func (s *Session) enterCompleted(ctx context.Context, _ Input) (workflow.Trigger, error) {
	if err := s.deps.Journal.Checkpoint(); err != nil {
		s.logger.Error("Journal checkpoint failed on study completion", zap.Error(err))
	}

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeStudyCompleted, s.sc.StudyID, map[string]interface{}{
		"exposures":           len(s.sc.Exposures),
		"cumulative_dose_mas": s.sc.CumulativeDoseMAs(),
	}))
	return "", nil
}
