// Package audit appends timer lifecycle events to the audit collaborator.
// Appends are fire-and-forget: a failed append is logged and never blocks or
// rolls back the timer mutation that produced it.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/coldops/coldchain/internal/timer"
)

// Event is the audit envelope for one timer lifecycle transition.
type Event struct {
	EventID   string              `json:"eventId"`
	EventType string              `json:"eventType"`
	TimerID   string              `json:"timerId"`
	EntityID  string              `json:"entityId,omitempty"`
	Operation timer.OperationType `json:"operationType"`
	Variant   timer.Variant       `json:"variant"`
	Label     string              `json:"label"`
	Timestamp time.Time           `json:"timestamp"`
}

const (
	EventTimerCreated   = "TimerCreated"
	EventTimerCompleted = "TimerCompleted"
	EventTimerDeleted   = "TimerDeleted"
)

func newEvent(eventType string, t timer.Timer, at time.Time) Event {
	return Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		TimerID:   t.ID.String(),
		EntityID:  t.EntityID,
		Operation: t.Operation,
		Variant:   t.Variant,
		Label:     t.Label,
		Timestamp: at,
	}
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// NopLog discards all events. Wired when auditing is disabled.
type NopLog struct{}

func (NopLog) TimerCreated(timer.Timer)   {}
func (NopLog) TimerCompleted(timer.Timer) {}
func (NopLog) TimerDeleted(timer.Timer)   {}
