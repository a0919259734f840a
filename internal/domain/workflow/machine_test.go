package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateIdle, false},
		{StateWorklistSync, false},
		{StatePatientSelect, false},
		{StateProtocolSelect, false},
		{StatePositionAndPreview, false},
		{StateExposureTrigger, false},
		{StateQcReview, false},
		{StateRejectRetake, false},
		{StateMppsComplete, false},
		{StatePacsExport, false},
		{StateCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StateIdle, true},
		{"valid terminal state", StateCompleted, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_IsValid(t *testing.T) {
	if !TriggerExposure.IsValid() {
		t.Error("TriggerExposure should be valid")
	}
	if Trigger("BOGUS").IsValid() {
		t.Error("unknown trigger should not be valid")
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StateIdle)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	config2 := builder.Configure(StateIdle)
	if config != config2 {
		t.Error("Configure() should return the same config for the same state")
	}
}

func TestBuilder_ConfigureInvalidStatePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() with invalid state should panic")
		}
	}()
	NewBuilder().Configure(State("NOT_A_STATE"))
}

func TestBuilder_PermitFromTerminalPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() from a terminal state should panic")
		}
	}()
	NewBuilder().Configure(StateCompleted).Permit(TriggerStart, StateIdle)
}

func TestBuilder_DuplicatePermitPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("duplicate Permit() for the same trigger should panic")
		}
	}()
	builder := NewBuilder()
	builder.Configure(StateIdle).
		Permit(TriggerStart, StateWorklistSync).
		Permit(TriggerStart, StatePatientSelect)
}

func TestMachine_CommitAndCanFire(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateIdle).Permit(TriggerStart, StateWorklistSync)
	builder.Configure(StateWorklistSync).Permit(TriggerWorklistSynced, StatePatientSelect)
	m := builder.Build(StateIdle)

	if m.State() != StateIdle {
		t.Fatalf("initial state = %v, want %v", m.State(), StateIdle)
	}
	if !m.CanFire(TriggerStart) {
		t.Error("CanFire(TriggerStart) = false, want true")
	}
	if m.CanFire(TriggerWorklistSynced) {
		t.Error("CanFire(TriggerWorklistSynced) = true in Idle, want false")
	}

	edge, ok := m.Edge(TriggerStart)
	if !ok {
		t.Fatal("Edge(TriggerStart) not found")
	}
	if err := m.Commit(edge.To); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if m.State() != StateWorklistSync {
		t.Errorf("state after commit = %v, want %v", m.State(), StateWorklistSync)
	}
}

func TestMachine_CommitInvalidState(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateIdle).Permit(TriggerStart, StateWorklistSync)
	m := builder.Build(StateIdle)

	if err := m.Commit(State("BROKEN")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Commit() error = %v, want ErrInvalidState", err)
	}
}

func TestMachine_Restore(t *testing.T) {
	m := NewClinicalMachine(ClinicalGuards{})

	if err := m.Restore(StateQcReview); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if m.State() != StateQcReview {
		t.Errorf("state after restore = %v, want %v", m.State(), StateQcReview)
	}

	if err := m.Restore(State("NOPE")); err == nil {
		t.Error("Restore() to an invalid state should fail")
	}
}

func TestGuard_Evaluate(t *testing.T) {
	t.Run("passing guard", func(t *testing.T) {
		g := Guard{Name: "AlwaysOK", Check: func(ctx context.Context) error { return nil }}
		if err := g.Evaluate(context.Background(), 10*time.Millisecond); err != nil {
			t.Errorf("Evaluate() error = %v, want nil", err)
		}
	})

	t.Run("failing guard", func(t *testing.T) {
		cause := fmt.Errorf("door open")
		g := Guard{Name: "Denies", Check: func(ctx context.Context) error { return cause }}
		if err := g.Evaluate(context.Background(), 10*time.Millisecond); !errors.Is(err, cause) {
			t.Errorf("Evaluate() error = %v, want %v", err, cause)
		}
	})

	t.Run("guard exceeding budget fails safe", func(t *testing.T) {
		g := Guard{Name: "Slow", Check: func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
		err := g.Evaluate(context.Background(), 5*time.Millisecond)
		if !errors.Is(err, ErrGuardTimeout) {
			t.Errorf("Evaluate() error = %v, want ErrGuardTimeout", err)
		}
	})

	t.Run("nil check passes", func(t *testing.T) {
		g := Guard{Name: "Empty"}
		if err := g.Evaluate(context.Background(), time.Millisecond); err != nil {
			t.Errorf("Evaluate() error = %v, want nil", err)
		}
	})
}

func TestNewClinicalMachine_Table(t *testing.T) {
	m := NewClinicalMachine(ClinicalGuards{})

	tests := []struct {
		from    State
		trigger Trigger
		to      State
	}{
		{StateIdle, TriggerStart, StateWorklistSync},
		{StateWorklistSync, TriggerWorklistSynced, StatePatientSelect},
		{StateWorklistSync, TriggerEmergencyBypass, StatePatientSelect},
		{StatePatientSelect, TriggerPatientChosen, StateProtocolSelect},
		{StateProtocolSelect, TriggerProtocolChosen, StatePositionAndPreview},
		{StatePositionAndPreview, TriggerExposure, StateExposureTrigger},
		{StateExposureTrigger, TriggerExposureComplete, StateQcReview},
		{StateExposureTrigger, TriggerExposureAborted, StatePositionAndPreview},
		{StateQcReview, TriggerImageAccepted, StateMppsComplete},
		{StateQcReview, TriggerImageRejected, StateRejectRetake},
		{StateRejectRetake, TriggerRetakeAuthorized, StateExposureTrigger},
		{StateMppsComplete, TriggerMppsDone, StatePacsExport},
		{StatePacsExport, TriggerExported, StateCompleted},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.from, tt.trigger), func(t *testing.T) {
			if err := m.Restore(tt.from); err != nil {
				t.Fatalf("Restore(%v) error = %v", tt.from, err)
			}
			edge, ok := m.Edge(tt.trigger)
			if !ok {
				t.Fatalf("no edge for %v from %v", tt.trigger, tt.from)
			}
			if edge.To != tt.to {
				t.Errorf("edge target = %v, want %v", edge.To, tt.to)
			}
		})
	}
}

func TestNewClinicalMachine_ExposureEdgeGuarded(t *testing.T) {
	denied := fmt.Errorf("blocked")
	g := ClinicalGuards{
		InterlocksOK: Guard{Name: GuardInterlocksNotOK, Check: func(ctx context.Context) error { return denied }},
	}
	m := NewClinicalMachine(g)
	if err := m.Restore(StatePositionAndPreview); err != nil {
		t.Fatal(err)
	}

	edge, ok := m.Edge(TriggerExposure)
	if !ok {
		t.Fatal("no exposure edge from PositionAndPreview")
	}
	if len(edge.Guards) != 3 {
		t.Fatalf("exposure edge guard count = %d, want 3", len(edge.Guards))
	}
	if err := edge.Guards[0].Evaluate(context.Background(), 10*time.Millisecond); !errors.Is(err, denied) {
		t.Errorf("interlock guard error = %v, want %v", err, denied)
	}
}

func TestNewClinicalMachine_NoEdgesOutOfCompleted(t *testing.T) {
	m := NewClinicalMachine(ClinicalGuards{})
	if err := m.Restore(StateCompleted); err != nil {
		t.Fatal(err)
	}
	if got := m.PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() from Completed = %v, want none", got)
	}
}
