package timer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredTimer(label string, op OperationType) *Timer {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &Timer{
		ID:                     uuid.New(),
		Label:                  label,
		Operation:              op,
		Variant:                VariantStandard,
		InitialDurationMinutes: 10,
		StartedAt:              now,
		EndsAt:                 now.Add(10 * time.Minute),
		Active:                 true,
	}
}

func TestStoreInsertAndIndex(t *testing.T) {
	store := NewStore()
	timer := newStoredTimer("Envío #42 - Batch A", OpShip)
	store.Insert(timer)

	got, ok := store.Get(timer.ID)
	require.True(t, ok)
	assert.Equal(t, timer.ID, got.ID)

	// Lookup is robust to display formatting differences.
	byKey, ok := store.GetByKey(NewKey("envio  #42 - batch a", OpShip))
	require.True(t, ok)
	assert.Equal(t, timer.ID, byKey.ID)

	_, ok = store.GetByKey(NewKey("Envío #42 - Batch A", OpFreeze))
	assert.False(t, ok)
}

func TestStoreCopiesOnReadAndWrite(t *testing.T) {
	store := NewStore()
	timer := newStoredTimer("freeze #1", OpFreeze)
	store.Insert(timer)

	// Mutating the caller's copy must not leak into the store.
	timer.Completed = true
	got, ok := store.Get(timer.ID)
	require.True(t, ok)
	assert.False(t, got.Completed)

	got.Active = false
	again, ok := store.Get(timer.ID)
	require.True(t, ok)
	assert.True(t, again.Active)
}

func TestStoreDeleteMaintainsIndex(t *testing.T) {
	store := NewStore()
	timer := newStoredTimer("freeze #1", OpFreeze)
	store.Insert(timer)

	removed, ok := store.Delete(timer.ID)
	require.True(t, ok)
	assert.Equal(t, timer.ID, removed.ID)

	_, ok = store.Get(timer.ID)
	assert.False(t, ok)
	_, ok = store.GetByKey(timer.Key())
	assert.False(t, ok)

	_, ok = store.Delete(timer.ID)
	assert.False(t, ok)
}

func TestStoreCompletedDropsOutOfIndex(t *testing.T) {
	store := NewStore()
	timer := newStoredTimer("freeze #1", OpFreeze)
	store.Insert(timer)

	timer.Completed = true
	timer.Active = false
	store.Update(timer)

	_, ok := store.GetByKey(timer.Key())
	assert.False(t, ok)
	assert.True(t, store.HasCompleted(timer.Key()))

	// The id lookup still serves the completed timer until deletion.
	got, ok := store.Get(timer.ID)
	require.True(t, ok)
	assert.True(t, got.Completed)
}

func TestStoreListActive(t *testing.T) {
	store := NewStore()
	active := newStoredTimer("freeze #1", OpFreeze)
	paused := newStoredTimer("freeze #2", OpFreeze)
	paused.Active = false
	done := newStoredTimer("freeze #3", OpFreeze)
	done.Active = false
	done.Completed = true

	store.Insert(active)
	store.Insert(paused)
	store.Insert(done)

	listed := store.ListActive()
	require.Len(t, listed, 1)
	assert.Equal(t, active.ID, listed[0].ID)
	assert.Equal(t, 3, store.Len())
}
