package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coldops/coldchain/internal/audit"
	"github.com/coldops/coldchain/internal/gateway"
	"github.com/coldops/coldchain/internal/inventory"
	"github.com/coldops/coldchain/internal/phase"
	"github.com/coldops/coldchain/internal/reconcile"
	"github.com/coldops/coldchain/internal/refresh"
	"github.com/coldops/coldchain/internal/timer"
)

// Services is the wired component graph.
type Services struct {
	Engine   *timer.Engine
	Hub      *gateway.Hub
	WS       *gateway.Handler
	Phase    *phase.Machine
	Refresh  *refresh.Limiter
	AuditLog *audit.JetStreamLog // nil when auditing is disabled
}

func setupServices(cfg *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	lookup, err := setupInventory(cfg)
	if err != nil {
		return nil, err
	}

	var auditLog timer.AuditLog = audit.NopLog{}
	var jsLog *audit.JetStreamLog
	if cfg.Audit.Enabled {
		jsCfg := audit.DefaultJetStreamConfig()
		if cfg.Audit.URL != "" {
			jsCfg.URL = cfg.Audit.URL
		}
		if cfg.Audit.Stream != "" {
			jsCfg.StreamName = cfg.Audit.Stream
		}
		if cfg.Audit.SubjectPrefix != "" {
			jsCfg.SubjectPrefix = cfg.Audit.SubjectPrefix
		}
		jsLog, err = audit.NewJetStreamLog(jsCfg, clock)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit log: %w", err)
		}
		auditLog = jsLog
	}

	// The hub broadcasts for the engine and the engine snapshots for the hub,
	// so the hub is constructed first and bound after.
	hub := gateway.NewHub()

	engineCfg := timer.DefaultConfig()
	engineCfg.TickInterval = cfg.tickInterval()
	engineCfg.SnapshotEveryTicks = cfg.Engine.SnapshotEveryTicks
	// A completed timer leaves the store when the operator cleans it up; the
	// recent-completion cache keeps its entity key eligible through that gap.
	recent := reconcile.NewRecentCompletions(clock,
		time.Duration(cfg.Reconcile.RecentCompletionTTLSeconds)*time.Second)

	engine := timer.NewEngine(engineCfg, clock, hub,
		&completionRecorder{next: auditLog, recent: recent}, lookup)
	hub.Bind(engine)

	wsHandler := gateway.NewHandler(hub, gateway.DefaultSessionConfig())

	gate := phase.NewGate(engine, recent)
	machine := phase.NewMachine(gate)

	limiter := refresh.NewLimiter(clock, cfg.refreshWindow(), hub.SyncAll)

	return &Services{
		Engine:   engine,
		Hub:      hub,
		WS:       wsHandler,
		Phase:    machine,
		Refresh:  limiter,
		AuditLog: jsLog,
	}, nil
}

// completionRecorder tees timer lifecycle events into the recent-completion
// cache before forwarding them to the audit log. Markers are keyed by
// Timer.EntityKey so the phase gate matches assets by entity id.
type completionRecorder struct {
	next   timer.AuditLog
	recent *reconcile.RecentCompletions
}

func (c *completionRecorder) TimerCreated(t timer.Timer) {
	c.recent.Invalidate(t.EntityKey())
	c.next.TimerCreated(t)
}

func (c *completionRecorder) TimerCompleted(t timer.Timer) {
	c.recent.Mark(t.EntityKey(), t.InitialDurationMinutes)
	c.next.TimerCompleted(t)
}

// TimerDeleted refreshes the marker when a completed timer is cleaned up, so
// eligibility survives deletions arriving long after the zero-crossing. A
// delete that raced out a completion carries Completed=false and leaves no
// marker.
func (c *completionRecorder) TimerDeleted(t timer.Timer) {
	if t.Completed {
		c.recent.Mark(t.EntityKey(), t.InitialDurationMinutes)
	}
	c.next.TimerDeleted(t)
}

func setupInventory(cfg *Config) (timer.EntityLookup, error) {
	switch cfg.Inventory.Source {
	case "postgres":
		database, err := setupDatabase()
		if err != nil {
			return nil, fmt.Errorf("failed to set up inventory database: %w", err)
		}
		return inventory.NewPostgres(database), nil
	default:
		entities := make([]inventory.Entity, 0, len(cfg.Inventory.Entities))
		for _, e := range cfg.Inventory.Entities {
			entities = append(entities, inventory.Entity{ID: e.ID, Name: e.Name})
		}
		return inventory.NewStatic(entities...), nil
	}
}
