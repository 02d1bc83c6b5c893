package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/coldops/coldchain/internal/timer"
)

// MessageType tags the wire envelope.
type MessageType string

const (
	// client → server
	MsgRequestSync       MessageType = "REQUEST_SYNC"
	MsgCreateTimer       MessageType = "CREATE_TIMER"
	MsgCreateTimersBatch MessageType = "CREATE_TIMERS_BATCH"
	MsgPauseTimer        MessageType = "PAUSE_TIMER"
	MsgResumeTimer       MessageType = "RESUME_TIMER"
	MsgDeleteTimer       MessageType = "DELETE_TIMER"

	// server → client
	MsgTimerSync        MessageType = "TIMER_SYNC"
	MsgTimerBatchUpdate MessageType = "TIMER_BATCH_UPDATE"
	MsgTimerCreated     MessageType = "TIMER_CREATED"
	MsgTimerUpdated     MessageType = "TIMER_UPDATED"
	MsgTimerDeleted     MessageType = "TIMER_DELETED"
	MsgBatchResult      MessageType = "TIMERS_BATCH_RESULT"
	MsgError            MessageType = "ERROR"
)

// Envelope is the wire shape of every message: {type, data}.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", t, err)
	}
	return Envelope{Type: t, Data: raw}, nil
}

// TimerSyncData carries the full authoritative snapshot.
type TimerSyncData struct {
	Timers []timer.Timer `json:"timers"`
}

// BatchUpdateData carries the changed-only tick delta.
type BatchUpdateData struct {
	Updates []timer.Update `json:"updates"`
}

// TimerSpec is one timer description in a create request.
type TimerSpec struct {
	Label           string              `json:"label,omitempty"`
	EntityID        string              `json:"entityId,omitempty"`
	OperationType   timer.OperationType `json:"operationType"`
	Variant         timer.Variant       `json:"variant,omitempty"`
	DurationMinutes int                 `json:"durationMinutes"`
}

func (s TimerSpec) toRequest() timer.CreateRequest {
	return timer.CreateRequest{
		Label:           s.Label,
		Operation:       s.OperationType,
		Variant:         s.Variant,
		EntityID:        s.EntityID,
		DurationMinutes: s.DurationMinutes,
	}
}

// CreateTimerData carries a single-timer create request.
type CreateTimerData struct {
	Timer TimerSpec `json:"timer"`
}

// CreateBatchData carries a batch create request applied as one logical unit.
type CreateBatchData struct {
	Timers []TimerSpec `json:"timers"`
}

// TimerRefData references one timer by id (pause, resume, delete).
type TimerRefData struct {
	TimerID uuid.UUID `json:"timerId"`
}

// TimerEventData carries the full timer on discrete lifecycle events.
type TimerEventData struct {
	Timer timer.Timer `json:"timer"`
}

// TimerDeletedData carries the id of a removed timer.
type TimerDeletedData struct {
	TimerID uuid.UUID `json:"timerId"`
}

// BatchItemResult reports one item's outcome of a batch create, so the caller
// can retry only the failed subset.
type BatchItemResult struct {
	Ref     string `json:"ref"`
	TimerID string `json:"timerId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResultData is the per-item result list for CREATE_TIMERS_BATCH.
type BatchResultData struct {
	Results []BatchItemResult `json:"results"`
}

// ErrorData is the rejection sent back to the requesting session only.
type ErrorData struct {
	RequestType MessageType `json:"requestType"`
	Reason      string      `json:"reason"`
}
