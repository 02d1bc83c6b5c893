package phase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldops/coldchain/internal/audit"
	"github.com/coldops/coldchain/internal/inventory"
	"github.com/coldops/coldchain/internal/timer"
)

// stubSource flips completion on and off per key, standing in for the engine
// store and the recent-completion cache.
type stubSource struct {
	completed map[timer.Key]bool
}

func newStubSource() *stubSource {
	return &stubSource{completed: make(map[timer.Key]bool)}
}

func (s *stubSource) complete(entityKey string, op timer.OperationType) {
	s.completed[timer.NewKey(entityKey, op)] = true
}

func (s *stubSource) clear(entityKey string, op timer.OperationType) {
	delete(s.completed, timer.NewKey(entityKey, op))
}

func (s *stubSource) HasCompletedForEntity(key timer.Key) bool {
	return s.completed[key]
}

func TestMachineFullCycle(t *testing.T) {
	src := newStubSource()
	m := NewMachine(NewGate(src))
	entity := "freeze #42 - batch a"

	assert.Equal(t, InBodega, m.Phase(entity))
	require.NoError(t, m.Advance(entity, PreAcondFreeze))

	src.complete(entity, timer.OpFreeze)
	require.NoError(t, m.Advance(entity, AcondAssembly))
	require.NoError(t, m.Advance(entity, AcondReadyToDispatch))
	require.NoError(t, m.Advance(entity, OperationInTransit))

	src.complete(entity, timer.OpShip)
	require.NoError(t, m.Advance(entity, OperationDelivered))
	require.NoError(t, m.Advance(entity, Devolution))
	require.NoError(t, m.Advance(entity, Inspection))

	src.complete(entity, timer.OpInspect)
	require.NoError(t, m.Advance(entity, InBodega))
	assert.Equal(t, InBodega, m.Phase(entity))
}

func TestMachineTemperTrack(t *testing.T) {
	src := newStubSource()
	m := NewMachine(NewGate(src))
	entity := "temper #7"

	require.NoError(t, m.Advance(entity, PreAcondTemper))
	src.complete(entity, timer.OpTemper)
	require.NoError(t, m.Advance(entity, AcondAssembly))
}

func TestMachineInvalidTransition(t *testing.T) {
	m := NewMachine(NewGate())
	entity := "freeze #1"

	err := m.Advance(entity, AcondAssembly)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, InBodega, m.Phase(entity))
}

func TestMachineGateBlocksTimedPhase(t *testing.T) {
	src := newStubSource()
	m := NewMachine(NewGate(src))
	entity := "freeze #42 - batch a"

	require.NoError(t, m.Advance(entity, PreAcondFreeze))

	err := m.Advance(entity, AcondAssembly)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Equal(t, PreAcondFreeze, m.Phase(entity))
}

func TestMachineGateReevaluatesPerCall(t *testing.T) {
	src := newStubSource()
	m := NewMachine(NewGate(src))
	entity := "ship #9"

	require.NoError(t, m.Advance(entity, PreAcondFreeze))
	src.complete(entity, timer.OpFreeze)
	require.NoError(t, m.Advance(entity, AcondAssembly))
	require.NoError(t, m.Advance(entity, AcondReadyToDispatch))
	require.NoError(t, m.Advance(entity, OperationInTransit))

	// Marker present, then gone before the operator clicks: eligibility is a
	// point-in-time answer, never cached from a previous check.
	src.complete(entity, timer.OpShip)
	assert.True(t, NewGate(src).IsEligible(entity, timer.OpShip))
	src.clear(entity, timer.OpShip)
	err := m.Advance(entity, OperationDelivered)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestMachineUngatedPhaseNeedsNoCompletion(t *testing.T) {
	src := newStubSource()
	m := NewMachine(NewGate(src))
	entity := "assembly #5"

	require.NoError(t, m.Advance(entity, PreAcondTemper))
	src.complete(entity, timer.OpTemper)
	require.NoError(t, m.Advance(entity, AcondAssembly))
	// Assembly has no countdown; advancing out needs no completion marker.
	require.NoError(t, m.Advance(entity, AcondReadyToDispatch))
}

type nopBroadcaster struct{}

func (nopBroadcaster) TimerCreated(timer.Timer)   {}
func (nopBroadcaster) TimerUpdated(timer.Timer)   {}
func (nopBroadcaster) TimerDeleted(uuid.UUID)     {}
func (nopBroadcaster) BatchUpdate([]timer.Update) {}
func (nopBroadcaster) SyncAll()                   {}

// The machine keyed by inventory id must open against real engine completions,
// whose timers carry operation-prefixed display labels.
func TestMachineAgainstEngineCompletions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	inv := inventory.NewStatic(inventory.Entity{ID: "42", Name: "Batch A"})
	engine := timer.NewEngine(timer.DefaultConfig(), clock, nopBroadcaster{}, audit.NopLog{}, inv)

	m := NewMachine(NewGate(engine))
	require.NoError(t, m.Advance("42", PreAcondFreeze))

	created, err := engine.Create(context.Background(), timer.CreateRequest{
		EntityID:        "42",
		Operation:       timer.OpFreeze,
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	require.Equal(t, "freeze #42 - Batch A", created.Label)

	// Countdown still running: the gate stays shut.
	err = m.Advance("42", AcondAssembly)
	assert.ErrorIs(t, err, ErrNotEligible)

	clock.Advance(30 * time.Minute)
	engine.Tick()

	require.NoError(t, m.Advance("42", AcondAssembly))
	assert.Equal(t, AcondAssembly, m.Phase("42"))
}

// Free-form timers carry no entity id; their label is the machine key.
func TestMachineAgainstEngineLabelFallback(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	engine := timer.NewEngine(timer.DefaultConfig(), clock, nopBroadcaster{}, audit.NopLog{}, inventory.NewStatic())

	m := NewMachine(NewGate(engine))
	require.NoError(t, m.Advance("Estación Norte", PreAcondTemper))

	_, err := engine.Create(context.Background(), timer.CreateRequest{
		Label:           "estacion  norte",
		Operation:       timer.OpTemper,
		DurationMinutes: 10,
	})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	engine.Tick()

	require.NoError(t, m.Advance("Estación Norte", AcondAssembly))
}

func TestGateMultipleSources(t *testing.T) {
	a := newStubSource()
	b := newStubSource()
	gate := NewGate(a, b)
	entity := "freeze #3"

	assert.False(t, gate.IsEligible(entity, timer.OpFreeze))
	b.complete(entity, timer.OpFreeze)
	assert.True(t, gate.IsEligible(entity, timer.OpFreeze))
}
