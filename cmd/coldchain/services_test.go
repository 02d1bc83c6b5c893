package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/coldops/coldchain/internal/audit"
	"github.com/coldops/coldchain/internal/reconcile"
	"github.com/coldops/coldchain/internal/timer"
)

func newTestRecorder() (*completionRecorder, *clockwork.FakeClock, *reconcile.RecentCompletions) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	recent := reconcile.NewRecentCompletions(clock, 5*time.Second)
	return &completionRecorder{next: audit.NopLog{}, recent: recent}, clock, recent
}

func freezeTimer() timer.Timer {
	return timer.Timer{
		ID:                     uuid.New(),
		Label:                  "freeze #42 - Batch A",
		Operation:              timer.OpFreeze,
		EntityID:               "42",
		InitialDurationMinutes: 30,
	}
}

func TestCompletionRecorderMarksByEntity(t *testing.T) {
	rec, _, recent := newTestRecorder()

	tm := freezeTimer()
	tm.Completed = true
	rec.TimerCompleted(tm)

	assert.True(t, recent.HasCompletedForEntity(timer.NewKey("42", timer.OpFreeze)))
	assert.False(t, recent.HasCompletedForEntity(tm.Key()))
}

func TestCompletionRecorderDeletionRefreshesMarker(t *testing.T) {
	rec, clock, recent := newTestRecorder()
	key := timer.NewKey("42", timer.OpFreeze)

	tm := freezeTimer()
	tm.Completed = true
	rec.TimerCompleted(tm)

	// The operator cleans the completed timer up long after the completion
	// marker would have expired; deletion re-opens the eligibility window.
	clock.Advance(time.Minute)
	assert.False(t, recent.HasCompletedForEntity(key))

	rec.TimerDeleted(tm)
	assert.True(t, recent.HasCompletedForEntity(key))

	clock.Advance(6 * time.Second)
	assert.False(t, recent.HasCompletedForEntity(key))
}

func TestCompletionRecorderDeleteBeatsCompletionLeavesNoMarker(t *testing.T) {
	rec, _, recent := newTestRecorder()

	tm := freezeTimer()
	rec.TimerDeleted(tm)
	assert.False(t, recent.HasCompletedForEntity(timer.NewKey("42", timer.OpFreeze)))
}

func TestCompletionRecorderFreshTimerInvalidates(t *testing.T) {
	rec, _, recent := newTestRecorder()
	key := timer.NewKey("42", timer.OpFreeze)

	tm := freezeTimer()
	tm.Completed = true
	rec.TimerCompleted(tm)
	assert.True(t, recent.HasCompletedForEntity(key))

	rec.TimerCreated(freezeTimer())
	assert.False(t, recent.HasCompletedForEntity(key))
}
