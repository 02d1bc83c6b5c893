package timer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OperationType is the handling phase a countdown gates.
type OperationType string

const (
	OpFreeze  OperationType = "freeze"
	OpTemper  OperationType = "temper"
	OpShip    OperationType = "ship"
	OpInspect OperationType = "inspect"
)

// Valid reports whether o is a known operation type.
func (o OperationType) Valid() bool {
	switch o {
	case OpFreeze, OpTemper, OpShip, OpInspect:
		return true
	}
	return false
}

// Variant distinguishes sub-kinds of an operation as an explicit field,
// never inferred from the display label.
type Variant string

const (
	VariantStandard Variant = "standard"
	VariantDispatch Variant = "dispatch"
)

var (
	ErrNotFound         = errors.New("timer not found")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrInvalidOperation = errors.New("unknown operation type")
)

// Timer is the canonical countdown entity for one tracked asset and operation.
//
// Exactly one of the endsAt-derived remaining time and RemainingSecondsAtPause
// is meaningful at any instant, selected by Active. Completed is monotonic.
type Timer struct {
	ID                      uuid.UUID     `json:"id"`
	Label                   string        `json:"label"`
	Operation               OperationType `json:"operationType"`
	Variant                 Variant       `json:"variant"`
	EntityID                string        `json:"entityId,omitempty"`
	EntityName              string        `json:"entityName,omitempty"`
	InitialDurationMinutes  int           `json:"durationMinutes"`
	StartedAt               time.Time     `json:"startedAt"`
	EndsAt                  time.Time     `json:"endsAt,omitempty"`
	RemainingSecondsAtPause int           `json:"remainingSecondsAtPause,omitempty"`
	Active                  bool          `json:"active"`
	Completed               bool          `json:"completed"`
	CreatedAt               time.Time     `json:"createdAt"`
}

// Key identifies "the same logical timer" across creations: the store holds at
// most one non-completed timer per key.
type Key struct {
	Label     string
	Operation OperationType
}

// NewKey builds the dedupe key for a display label and operation.
func NewKey(label string, op OperationType) Key {
	return Key{Label: Normalize(label), Operation: op}
}

func (k Key) String() string {
	return k.Label + "|" + string(k.Operation)
}

// Key returns the timer's dedupe key.
func (t *Timer) Key() Key {
	return NewKey(t.Label, t.Operation)
}

// EntityKey returns the key completion signals are registered under for the
// phase gate: the structured entity id when the timer carries one, the display
// label otherwise. Labels embed the operation, so only the entity id lets one
// asset pass several gated phases.
func (t *Timer) EntityKey() Key {
	if t.EntityID != "" {
		return NewKey(t.EntityID, t.Operation)
	}
	return t.Key()
}

// RemainingSeconds computes the countdown value at now.
func (t *Timer) RemainingSeconds(now time.Time) int {
	if t.Completed {
		return 0
	}
	if !t.Active {
		return t.RemainingSecondsAtPause
	}
	rem := int(t.EndsAt.Sub(now).Seconds())
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (t *Timer) clone() *Timer {
	c := *t
	return &c
}

// Update is the changed-state record for one timer in a tick's output batch.
type Update struct {
	TimerID          uuid.UUID `json:"timerId"`
	RemainingSeconds int       `json:"remainingSeconds"`
	Completed        bool      `json:"completed"`
	Active           bool      `json:"active"`
}
