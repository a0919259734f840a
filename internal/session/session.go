package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/archive"
	"github.com/holee9/hnvue-console-sub002/internal/domain/study"
	"github.com/holee9/hnvue-console-sub002/internal/domain/workflow"
	"github.com/holee9/hnvue-console-sub002/internal/dose"
	"github.com/holee9/hnvue-console-sub002/internal/eventbus"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
	"github.com/holee9/hnvue-console-sub002/internal/interlock"
	"github.com/holee9/hnvue-console-sub002/internal/journal"
	"github.com/holee9/hnvue-console-sub002/internal/retake"
)

// maxAutoAdvance caps how many follow-up transitions one trigger may
// chain (exposure completion, archival hand-offs). The clinical table
// never chains more than three.
const maxAutoAdvance = 8

// Input carries the operator payload accompanying a trigger
type Input struct {
	Patient      *study.PatientInfo `json:"patient,omitempty"`
	Protocol     *study.Protocol    `json:"protocol,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	OperatorID   string             `json:"operator_id,omitempty"`
	SupervisorID string             `json:"supervisor_id,omitempty"`
}

// Config holds the session timing budgets
type Config struct {
	GuardTimeout      time.Duration
	TransitionTimeout time.Duration
	AbortBudget       time.Duration
}

// DefaultConfig returns the production timing budgets
func DefaultConfig() Config {
	return Config{
		GuardTimeout:      10 * time.Millisecond,
		TransitionTimeout: 100 * time.Millisecond,
		AbortBudget:       10 * time.Millisecond,
	}
}

// Deps are the collaborators a session is wired with
type Deps struct {
	Journal     *journal.Journal
	Gate        *interlock.Gate
	Watchdog    *interlock.Watchdog
	Dose        *dose.Coordinator
	Retake      *retake.Coordinator
	Bus         *eventbus.Bus
	Generator   hardware.Generator
	Detector    hardware.Detector
	DoseTracker hardware.DoseTracker
	Interlocks  hardware.InterlockSource
	Worklist    archive.WorklistProvider
	Mpps        archive.MppsReporter
	Pacs        archive.PacsExporter
	Logger      *zap.Logger
}

// Session owns exactly one active study: its context, its state machine,
// and the exclusive transition lock that serializes all transitions.
// Concurrent triggers race for the lock; losers observe the state the
// winner produced.
type Session struct {
	mu      sync.Mutex
	machine *workflow.Machine
	sc      *study.Context
	cfg     Config
	deps    Deps
	logger  *zap.Logger

	handlers map[workflow.State]entryHandler

	// images holds acquired frames by exposure index until PACS export
	images map[int]*hardware.Image

	// lastRejectedIndex is the exposure index the pending retake
	// authorization refers to
	lastRejectedIndex int

	worklistItems []archive.WorklistItem
}

type entryHandler func(ctx context.Context, input Input) (workflow.Trigger, error)

// New creates a session with a fresh study context in the Idle state
func New(cfg Config, deps Deps) *Session {
	s := &Session{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		sc:     study.NewContext(),
		images: make(map[int]*hardware.Image),
	}
	s.machine = workflow.NewClinicalMachine(s.clinicalGuards())
	s.handlers = s.entryHandlers()
	return s
}

// NewRecovered creates a session resuming a journal-recovered study.
// The recovered state was already routed to its safe target; entry
// handler side effects are not re-invoked.
func NewRecovered(cfg Config, deps Deps, recovered *study.Context) *Session {
	s := New(cfg, deps)
	s.sc = recovered
	if err := s.machine.Restore(recovered.CurrentState); err != nil {
		// Recovery validated the state already; an invalid one here means
		// the journal and the state set disagree, which is fatal.
		panic(fmt.Sprintf("recovered state %s is not a declared state", recovered.CurrentState))
	}
	deps.Dose.SeedStudyTotal(recovered.StudyID, recovered.CumulativeDoseMAs())

	if idx := lastRejectedIndex(recovered); idx >= 0 {
		s.lastRejectedIndex = idx
	}

	deps.Bus.Publish(eventbus.New(eventbus.TypeRecoveryCompleted, recovered.StudyID, map[string]interface{}{
		"state":               recovered.CurrentState.String(),
		"exposures":           len(recovered.Exposures),
		"cumulative_dose_mas": recovered.CumulativeDoseMAs(),
	}))
	return s
}

func lastRejectedIndex(sc *study.Context) int {
	if n := len(sc.Rejections); n > 0 {
		return sc.Rejections[n-1].ExposureIndex
	}
	return -1
}

// CurrentState returns the machine's current state
func (s *Session) CurrentState() workflow.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// StudyContext returns a deep-copy snapshot of the study context
func (s *Session) StudyContext() study.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.sc.Snapshot()
	snap.CurrentState = s.machine.State()
	return snap
}

// PermittedTriggers returns the triggers with a declared edge from the
// current state
func (s *Session) PermittedTriggers() []workflow.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.PermittedTriggers()
}

// TryTransition attempts the trigger against the current state. The whole
// pipeline (edge lookup, guards, journal append, commit, entry handler)
// runs under the exclusive transition lock. The pre-commit phase carries
// the transition time budget; handler collaborator calls run on the
// caller's context so a long hardware exposure is not cut short by it.
func (s *Session) TryTransition(ctx context.Context, trigger workflow.Trigger, input Input) workflow.TransitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fire(ctx, trigger, input, 0)
}

func (s *Session) fire(ctx context.Context, trigger workflow.Trigger, input Input, depth int) workflow.TransitionResult {
	from := s.machine.State()

	if depth > maxAutoAdvance {
		return workflow.ErrorResult(trigger, from, "transition chain exceeded auto-advance limit")
	}

	edge, ok := s.machine.Edge(trigger)
	if !ok {
		s.logger.Warn("Trigger not valid in current state",
			zap.String("trigger", trigger.String()),
			zap.String("state", from.String()))
		return workflow.InvalidStateResult(trigger, from)
	}

	// Once the journal has latched failed, no further exposure may be
	// triggered; non-exposure navigation stays possible so the operator
	// can close out the study.
	if s.deps.Journal.Failed() && edge.To == workflow.StateExposureTrigger {
		return workflow.FatalResult(trigger, from, "journal storage failed, exposure triggers refused")
	}

	preCtx, cancel := context.WithTimeout(ctx, s.cfg.TransitionTimeout)
	defer cancel()

	for _, guard := range edge.Guards {
		if err := guard.Evaluate(preCtx, s.cfg.GuardTimeout); err != nil {
			result := workflow.GuardFailedResult(trigger, from, guard.Name, err.Error())
			s.logger.Warn("Transition denied by guard",
				zap.String("trigger", trigger.String()),
				zap.String("guard", guard.Name),
				zap.String("reason", err.Error()))
			s.deps.Bus.Publish(eventbus.New(eventbus.TypeGuardDenied, s.sc.StudyID, map[string]interface{}{
				"trigger": trigger.String(),
				"guard":   guard.Name,
				"reason":  err.Error(),
			}))
			return result
		}
	}

	if err := preCtx.Err(); err != nil {
		return workflow.GuardFailedResult(trigger, from, "TransitionBudget", "transition exceeded time budget")
	}

	// Trigger-specific bookkeeping: review journaling and rejection
	// records must be durable before the state-transition record.
	if err := s.preCommit(preCtx, trigger, input); err != nil {
		return workflow.ErrorResult(trigger, from, err.Error())
	}

	payload := journal.TransitionPayload{
		StudyID:  s.sc.StudyID,
		Trigger:  trigger,
		From:     from,
		To:       edge.To,
		Patient:  input.Patient,
		Protocol: input.Protocol,
	}
	if _, err := s.deps.Journal.Append(preCtx, journal.EntryStateTransition, payload); err != nil {
		s.logger.Error("Journal append failed, transition refused", zap.Error(err))
		return workflow.FatalResult(trigger, from, "journal append failed: "+err.Error())
	}

	// The journal record is durable; commit the state.
	if err := s.machine.Commit(edge.To); err != nil {
		return workflow.ErrorResult(trigger, from, err.Error())
	}
	s.sc.CurrentState = edge.To
	s.applyInput(trigger, input)

	s.logger.Info("State transition committed",
		zap.String("trigger", trigger.String()),
		zap.String("from", from.String()),
		zap.String("to", edge.To.String()),
		zap.String("study_id", s.sc.StudyID))

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeStateChanged, s.sc.StudyID, map[string]interface{}{
		"trigger": trigger.String(),
		"from":    from.String(),
		"to":      edge.To.String(),
	}))

	handler := s.handlers[edge.To]
	if handler == nil {
		return workflow.Success(trigger, from, edge.To)
	}

	follow, err := handler(ctx, input)
	if err != nil {
		if follow != "" {
			// The handler named a declared fault edge (exposure abort):
			// take it, then surface the fault to the operator.
			if res := s.fire(ctx, follow, Input{}, depth+1); !res.Succeeded() {
				return res
			}
			return workflow.ErrorResult(trigger, from, err.Error())
		}
		s.rollback(ctx, from, edge.To, err)
		return workflow.ErrorResult(trigger, from, err.Error())
	}

	if follow != "" {
		return s.fire(ctx, follow, Input{}, depth+1)
	}

	return workflow.Success(trigger, from, edge.To)
}

// rollback restores the pre-transition state after a handler fault and
// writes the compensating journal entry. A fault inside a handler must
// never leave the machine pointing at a state whose entry work did not
// complete.
func (s *Session) rollback(ctx context.Context, from, to workflow.State, cause error) {
	s.logger.Error("Entry handler failed, rolling back transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Error(cause))

	if _, err := s.deps.Journal.Append(ctx, journal.EntryError, journal.ErrorPayload{
		StudyID:       s.sc.StudyID,
		Reason:        cause.Error(),
		RestoredState: from,
	}); err != nil {
		// The journal is latched failed; the in-memory rollback still
		// happens and exposure triggers stay refused.
		s.logger.Error("Failed to journal compensating entry", zap.Error(err))
	}

	if err := s.machine.Restore(from); err != nil {
		s.logger.Error("Failed to restore pre-transition state", zap.Error(err))
	}
	s.sc.CurrentState = from

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeTransitionError, s.sc.StudyID, map[string]interface{}{
		"restored_state": from.String(),
		"reason":         cause.Error(),
	}))
}

// preCommit performs trigger-specific bookkeeping whose journal records
// must precede the state-transition record
func (s *Session) preCommit(ctx context.Context, trigger workflow.Trigger, input Input) error {
	switch trigger {
	case workflow.TriggerPatientChosen:
		if input.Patient == nil || input.Patient.PatientID == "" {
			return fmt.Errorf("patient selection requires a patient id")
		}

	case workflow.TriggerProtocolChosen:
		if input.Protocol == nil || input.Protocol.ProtocolID == "" {
			return fmt.Errorf("protocol selection requires a protocol id")
		}

	case workflow.TriggerImageAccepted:
		index, err := s.sc.LastAcquiredIndex()
		if err != nil {
			return err
		}
		if _, err := s.deps.Journal.Append(ctx, journal.EntryImageAccepted, journal.ReviewPayload{
			StudyID:    s.sc.StudyID,
			Index:      index,
			OperatorID: input.OperatorID,
		}); err != nil {
			return fmt.Errorf("failed to journal image acceptance: %w", err)
		}
		if err := s.sc.MarkAccepted(index); err != nil {
			return err
		}
		s.deps.Bus.Publish(eventbus.New(eventbus.TypeImageAccepted, s.sc.StudyID, map[string]interface{}{
			"exposure_index": index,
		}))

	case workflow.TriggerImageRejected:
		index, err := s.sc.LastAcquiredIndex()
		if err != nil {
			return err
		}
		auth, err := s.deps.Retake.RecordRejection(s.sc, index, input.Reason, input.OperatorID)
		if err != nil {
			return err
		}
		if _, err := s.deps.Journal.Append(ctx, journal.EntryImageRejected, journal.ReviewPayload{
			StudyID:     s.sc.StudyID,
			Index:       index,
			Reason:      input.Reason,
			OperatorID:  input.OperatorID,
			RejectionID: auth.RejectionID,
		}); err != nil {
			// The rejection never became durable, so it must not exist in
			// memory either.
			if dropErr := s.deps.Retake.DropRejection(s.sc, auth.RejectionID); dropErr != nil {
				s.logger.Error("Failed to unwind unjournaled rejection", zap.Error(dropErr))
			}
			return fmt.Errorf("failed to journal image rejection: %w", err)
		}
		if err := s.sc.MarkRejected(index, input.Reason); err != nil {
			return err
		}
		s.lastRejectedIndex = index
		s.deps.Bus.Publish(eventbus.New(eventbus.TypeImageRejected, s.sc.StudyID, map[string]interface{}{
			"exposure_index":    index,
			"reason":            input.Reason,
			"rejection_id":      auth.RejectionID,
			"retakes_remaining": auth.RetakesRemaining,
		}))
	}

	return nil
}

// applyInput folds the trigger payload into the study context after commit
func (s *Session) applyInput(trigger workflow.Trigger, input Input) {
	switch trigger {
	case workflow.TriggerPatientChosen:
		s.sc.Patient = *input.Patient

	case workflow.TriggerProtocolChosen:
		s.sc.Protocol = *input.Protocol

	case workflow.TriggerEmergencyBypass:
		// Emergency workflow runs against a synthetic patient so delivered
		// dose is still tracked against a stable id.
		if s.sc.Patient.PatientID == "" {
			s.sc.Patient = study.PatientInfo{
				PatientID: "EMERGENCY-" + uuid.NewString()[:8],
				Name:      "EMERGENCY^PATIENT",
			}
		}

	case workflow.TriggerRetakeAuthorized:
		if err := s.deps.Retake.Consume(s.sc, s.lastRejectedIndex); err != nil {
			// The guard verified the pending authorization under the same
			// lock, so this indicates bookkeeping drift worth surfacing.
			s.logger.Error("Failed to consume retake authorization", zap.Error(err))
		}
	}
}

// AuthorizeRetake authorizes the retake for a recorded rejection. It is
// not itself a transition; the subsequent retake trigger passes the
// authorization guard.
func (s *Session) AuthorizeRetake(rejectionID, supervisorID string) (retake.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deps.Retake.AuthorizeRetake(s.sc, rejectionID, supervisorID)
}

// DoseSummary reports the running dose totals for the active study
func (s *Session) DoseSummary() (dose.CumulativeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deps.Dose.Summary(s.sc.StudyID, s.sc.Patient.PatientID)
}

// AbortExposure is a priority operation: it preempts normal guard
// evaluation and reaches the generator without taking the transition
// lock, so an in-flight exposure halts inside the abort budget. The
// transition holder observes the abort and does the bookkeeping.
func (s *Session) AbortExposure(ctx context.Context) error {
	abortCtx, cancel := context.WithTimeout(ctx, s.cfg.AbortBudget)
	defer cancel()

	err := s.deps.Generator.AbortExposure(abortCtx)
	s.deps.Bus.Publish(eventbus.New(eventbus.TypeExposureAborted, s.sc.StudyID, map[string]interface{}{
		"source": "operator",
	}))
	return err
}

// EmergencyStandby forces the emergency-stop interlock clear and drops
// the generator to standby. Callable from any state, bypassing the
// transition lock.
func (s *Session) EmergencyStandby(ctx context.Context) {
	s.deps.Gate.EmergencyStandby()
	if s.deps.Interlocks != nil {
		s.deps.Interlocks.EmergencyStandby()
	}
	abortCtx, cancel := context.WithTimeout(ctx, s.cfg.AbortBudget)
	defer cancel()
	_ = s.deps.Generator.AbortExposure(abortCtx)

	s.deps.Bus.Publish(eventbus.New(eventbus.TypeEmergencyStandby, s.sc.StudyID, nil))
}

// Reset archives the completed study and starts a fresh context. It is
// only valid once the workflow has reached Completed.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.State().IsTerminal() {
		return fmt.Errorf("cannot reset: study in state %s is not complete", s.machine.State())
	}

	s.sc = study.NewContext()
	s.images = make(map[int]*hardware.Image)
	s.lastRejectedIndex = 0
	s.worklistItems = nil
	if err := s.machine.Restore(workflow.StateIdle); err != nil {
		return err
	}
	return nil
}
