package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldops/coldchain/internal/timer"
)

func TestEventEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tm := timer.Timer{
		ID:        uuid.New(),
		Label:     "freeze #42 - Batch A",
		Operation: timer.OpFreeze,
		Variant:   timer.VariantDispatch,
		EntityID:  "42",
	}

	e := newEvent(EventTimerCompleted, tm, at)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, EventTimerCompleted, e.EventType)
	assert.Equal(t, tm.ID.String(), e.TimerID)
	assert.Equal(t, at, e.Timestamp)

	raw, err := e.marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "TimerCompleted", decoded["eventType"])
	assert.Equal(t, "42", decoded["entityId"])
	assert.Equal(t, "freeze", decoded["operationType"])
	assert.Equal(t, "dispatch", decoded["variant"])
}

func TestEventIDsUnique(t *testing.T) {
	tm := timer.Timer{ID: uuid.New(), Operation: timer.OpShip}
	a := newEvent(EventTimerCreated, tm, time.Now())
	b := newEvent(EventTimerCreated, tm, time.Now())
	assert.NotEqual(t, a.EventID, b.EventID)
}
