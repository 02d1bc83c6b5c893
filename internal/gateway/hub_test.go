package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldops/coldchain/internal/timer"
)

type fakeService struct {
	mu        sync.Mutex
	timers    []timer.Timer
	created   []timer.CreateRequest
	createErr error
	pauseErr  error
	resumeErr error
	deleteOK  bool
	deleted   []uuid.UUID
	batch     []timer.BatchResult
}

func (f *fakeService) Create(_ context.Context, req timer.CreateRequest) (*timer.Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &timer.Timer{ID: uuid.New(), Label: req.Label, Operation: req.Operation}, nil
}

func (f *fakeService) CreateBatch(_ context.Context, reqs []timer.CreateRequest) []timer.BatchResult {
	return f.batch
}

func (f *fakeService) Pause(id uuid.UUID) (*timer.Timer, error) {
	if f.pauseErr != nil {
		return nil, f.pauseErr
	}
	return &timer.Timer{ID: id}, nil
}

func (f *fakeService) Resume(id uuid.UUID) (*timer.Timer, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &timer.Timer{ID: id}, nil
}

func (f *fakeService) Delete(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteOK {
		f.deleted = append(f.deleted, id)
	}
	return f.deleteOK
}

func (f *fakeService) Snapshot() []timer.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]timer.Timer(nil), f.timers...)
}

func newTestSession(hub *Hub, buffer int) *Session {
	return &Session{
		ID:     uuid.New().String(),
		hub:    hub,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		config: DefaultSessionConfig(),
	}
}

func recvEnvelope(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case data := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func TestHubSyncOnJoin(t *testing.T) {
	hub := NewHub()
	hub.Bind(&fakeService{timers: []timer.Timer{{ID: uuid.New(), Label: "freeze #1"}}})

	s := newTestSession(hub, 8)
	hub.register(s)

	env := recvEnvelope(t, s)
	assert.Equal(t, MsgTimerSync, env.Type)

	var data TimerSyncData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Timers, 1)
	assert.Equal(t, "freeze #1", data.Timers[0].Label)
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	hub.Bind(&fakeService{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s1 := newTestSession(hub, 8)
	s2 := newTestSession(hub, 8)
	hub.register(s1)
	hub.register(s2)
	recvEnvelope(t, s1) // join syncs
	recvEnvelope(t, s2)

	hub.BatchUpdate([]timer.Update{{TimerID: uuid.New(), RemainingSeconds: 30, Active: true}})

	for _, s := range []*Session{s1, s2} {
		env := recvEnvelope(t, s)
		assert.Equal(t, MsgTimerBatchUpdate, env.Type)
	}
}

func TestHubDropsSlowSession(t *testing.T) {
	hub := NewHub()
	hub.Bind(&fakeService{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	fast := newTestSession(hub, 8)
	slow := newTestSession(hub, 1)
	hub.register(fast)
	hub.register(slow)
	recvEnvelope(t, fast)
	// The slow session never drains; its join sync fills the single slot.

	hub.TimerDeleted(uuid.New())

	// The slow session is dropped, the fast one still gets the event.
	env := recvEnvelope(t, fast)
	assert.Equal(t, MsgTimerDeleted, env.Type)

	require.Eventually(t, func() bool {
		return hub.Stats()["total_sessions"] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubDeliveryAfterDisconnectDoesNotPanic(t *testing.T) {
	hub := NewHub()
	hub.Bind(&fakeService{})

	s := newTestSession(hub, 8)
	hub.register(s)

	// A pump death runs unregister while a fan-out that already snapshotted
	// its targets is still delivering. The late delivery must be harmless.
	hub.unregister(s)
	require.NotPanics(t, func() { s.trySend([]byte(`{}`)) })

	select {
	case <-s.done:
	default:
		t.Fatal("unregister did not signal session shutdown")
	}

	// Repeated unregister from the other pump is a no-op.
	require.NotPanics(t, func() { hub.unregister(s) })
	assert.Equal(t, 0, hub.Stats()["total_sessions"])
}

func TestHubLifecycleEvents(t *testing.T) {
	hub := NewHub()
	hub.Bind(&fakeService{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s := newTestSession(hub, 8)
	hub.register(s)
	recvEnvelope(t, s)

	created := timer.Timer{ID: uuid.New(), Label: "temper #2", Operation: timer.OpTemper, Active: true}
	hub.TimerCreated(created)

	env := recvEnvelope(t, s)
	require.Equal(t, MsgTimerCreated, env.Type)
	var data TimerEventData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, created.ID, data.Timer.ID)
}
