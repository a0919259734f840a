package workflow

import (
	"fmt"
	"sort"
)

// Edge is a declared transition: exactly one target state per
// (state, trigger) pair, gated by an ordered guard list.
type Edge struct {
	From    State
	Trigger Trigger
	To      State
	Guards  []Guard
}

// Machine tracks the current state of one study and resolves declared
// edges. It performs no journaling and no side effects of its own; the
// session layer owns the commit protocol.
type Machine struct {
	current State
	edges   map[State]map[Trigger]Edge
}

// Builder configures the transition table for a Machine
type Builder struct {
	edges map[State]map[Trigger]Edge
}

// StateConfig configures transitions out of a specific state
type StateConfig struct {
	builder *Builder
	from    State
}

// NewBuilder creates an empty state machine builder
func NewBuilder() *Builder {
	return &Builder{
		edges: make(map[State]map[Trigger]Edge),
	}
}

// Configure returns a state configuration for the given state
func (b *Builder) Configure(state State) *StateConfig {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	if _, exists := b.edges[state]; !exists {
		b.edges[state] = make(map[Trigger]Edge)
	}

	return &StateConfig{builder: b, from: state}
}

// Permit declares an edge from the configured state. Guards are evaluated
// in the order given; the first failure denies the transition.
func (c *StateConfig) Permit(trigger Trigger, toState State, guards ...Guard) *StateConfig {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if c.from.IsTerminal() {
		panic(fmt.Sprintf("terminal state %s cannot have outgoing transitions", c.from))
	}
	if _, dup := c.builder.edges[c.from][trigger]; dup {
		panic(fmt.Sprintf("duplicate edge for (%s, %s)", c.from, trigger))
	}

	c.builder.edges[c.from][trigger] = Edge{
		From:    c.from,
		Trigger: trigger,
		To:      toState,
		Guards:  guards,
	}

	return c
}

// Build creates a machine instance with the given initial state.
// The transition table is deep-copied so later builder use cannot
// mutate a running machine.
func (b *Builder) Build(initialState State) *Machine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	edgesCopy := make(map[State]map[Trigger]Edge, len(b.edges))
	for state, byTrigger := range b.edges {
		inner := make(map[Trigger]Edge, len(byTrigger))
		for trigger, edge := range byTrigger {
			inner[trigger] = edge
		}
		edgesCopy[state] = inner
	}

	return &Machine{
		current: initialState,
		edges:   edgesCopy,
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.current
}

// Edge resolves the declared edge for (current state, trigger)
func (m *Machine) Edge(trigger Trigger) (Edge, bool) {
	byTrigger, exists := m.edges[m.current]
	if !exists {
		return Edge{}, false
	}
	edge, exists := byTrigger[trigger]
	return edge, exists
}

// CanFire returns true if an edge is declared for the trigger in the
// current state. Guards are not evaluated here.
func (m *Machine) CanFire(trigger Trigger) bool {
	_, exists := m.Edge(trigger)
	return exists
}

// PermittedTriggers returns all triggers with a declared edge from the
// current state, in stable order.
func (m *Machine) PermittedTriggers() []Trigger {
	byTrigger, exists := m.edges[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(byTrigger))
	for trigger := range byTrigger {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}

// Commit moves the machine to the target state. The caller must have
// resolved the edge and made its journal entry durable first.
func (m *Machine) Commit(to State) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidState, to)
	}
	m.current = to
	return nil
}

// Restore forces the current state during crash recovery or rollback
func (m *Machine) Restore(state State) error {
	return m.Commit(state)
}
