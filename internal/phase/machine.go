// Package phase tracks each asset's position in the fixed handling cycle and
// exposes the countdown gate that transitions consult. Business validation of
// a transition (checklists, scans) stays with external collaborators; the only
// contribution of the timer core is the eligibility gate.
package phase

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coldops/coldchain/internal/timer"
)

// Phase is one stop in the handling cycle.
type Phase string

const (
	InBodega             Phase = "in_bodega"
	PreAcondFreeze       Phase = "preacond_freeze"
	PreAcondTemper       Phase = "preacond_temper"
	AcondAssembly        Phase = "acond_assembly"
	AcondReadyToDispatch Phase = "acond_ready_to_dispatch"
	OperationInTransit   Phase = "operation_in_transit"
	OperationDelivered   Phase = "operation_delivered"
	Devolution           Phase = "devolution"
	Inspection           Phase = "inspection"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrNotEligible       = errors.New("entity not eligible: countdown not complete")
)

// successors maps each phase to its permitted next phases. InBodega branches:
// the operator chooses the freeze or temper pre-conditioning track.
var successors = map[Phase][]Phase{
	InBodega:             {PreAcondFreeze, PreAcondTemper},
	PreAcondFreeze:       {AcondAssembly},
	PreAcondTemper:       {AcondAssembly},
	AcondAssembly:        {AcondReadyToDispatch},
	AcondReadyToDispatch: {OperationInTransit},
	OperationInTransit:   {OperationDelivered},
	OperationDelivered:   {Devolution},
	Devolution:           {Inspection},
	Inspection:           {InBodega},
}

// gatedOps maps the phases that may only be left once their countdown has
// completed to the operation type of that countdown.
var gatedOps = map[Phase]timer.OperationType{
	PreAcondFreeze:     timer.OpFreeze,
	PreAcondTemper:     timer.OpTemper,
	OperationInTransit: timer.OpShip,
	Inspection:         timer.OpInspect,
}

// CompletionSource reports whether an authoritative completion exists for an
// entity key: the structured entity id when the timer carried one, its display
// label otherwise. The engine and the recent-completion cache both implement it.
type CompletionSource interface {
	HasCompletedForEntity(key timer.Key) bool
}

// Gate answers "may this entity advance" against one or more completion
// sources. It holds no state of its own: eligibility is re-evaluated on every
// call, at the moment of the transition request, because completion is
// asynchronous relative to the operator's click.
type Gate struct {
	sources []CompletionSource
}

// NewGate builds a gate over the given completion sources.
func NewGate(sources ...CompletionSource) *Gate {
	return &Gate{sources: sources}
}

// IsEligible reports whether a completed timer or a recent-completion marker
// exists for (entityKey, op). entityKey is the asset's inventory id for timers
// created by entity, or the display label for free-form ones.
func (g *Gate) IsEligible(entityKey string, op timer.OperationType) bool {
	key := timer.NewKey(entityKey, op)
	for _, src := range g.sources {
		if src.HasCompletedForEntity(key) {
			return true
		}
	}
	return false
}

// Machine tracks per-entity phases and enforces the cycle plus the countdown
// gate on timed phases.
type Machine struct {
	gate *Gate

	mu     sync.Mutex
	phases map[string]Phase
}

// NewMachine creates a machine; entities start InBodega.
func NewMachine(gate *Gate) *Machine {
	return &Machine{
		gate:   gate,
		phases: make(map[string]Phase),
	}
}

// Phase returns the entity's current phase.
func (m *Machine) Phase(entityKey string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseLocked(entityKey)
}

func (m *Machine) phaseLocked(entityKey string) Phase {
	if p, ok := m.phases[entityKey]; ok {
		return p
	}
	return InBodega
}

// Advance moves the entity to target. The transition must be a permitted
// successor of the current phase, and leaving a timed phase requires the
// corresponding countdown to have completed, evaluated now, never cached.
func (m *Machine) Advance(entityKey string, target Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.phaseLocked(entityKey)
	if !permitted(cur, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, target)
	}
	if op, gated := gatedOps[cur]; gated {
		if !m.gate.IsEligible(entityKey, op) {
			return fmt.Errorf("%w: %s requires %s", ErrNotEligible, cur, op)
		}
	}
	m.phases[entityKey] = target
	return nil
}

func permitted(from, to Phase) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}
