// Package pool bounds the set of live agent processes.
//
// One process serves one (caller, team) pair. When the pool is full the
// least recently used process is evicted, preferring idle ones so
// in-flight work survives when it can.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
	"github.com/HyphaGroup/iris/internal/session"
	"github.com/HyphaGroup/iris/internal/transport"
)

// Key builds the pool key for a caller/team pair. An empty caller is
// recorded as external.
func Key(fromTeam, toTeam string) string {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	return fromTeam + "->" + toTeam
}

// Factory builds a transport for a team. The onExit hook must fire once
// when the child exits. Tests substitute fakes here.
type Factory func(team *config.Team, sessionID string, onExit func()) transport.Transport

func defaultFactory(team *config.Team, sessionID string, onExit func()) transport.Transport {
	p := transport.New(team, sessionID)
	p.OnExit(onExit)
	return p
}

// Process is one pool slot: a spawned transport plus its identity.
type Process struct {
	Key       string
	FromTeam  string
	ToTeam    string
	SessionID string
	Transport transport.Transport
	CreatedAt time.Time

	team     *config.Team
	lastUsed time.Time // guarded by the pool mutex
}

// Snapshot is a read-only view of a pool slot for reporting.
type Snapshot struct {
	Key       string                  `json:"key"`
	FromTeam  string                  `json:"from_team"`
	ToTeam    string                  `json:"to_team"`
	SessionID string                  `json:"session_id"`
	Status    transport.ProcessStatus `json:"status"`
	PID       int                     `json:"pid,omitempty"`
	Metrics   transport.Metrics       `json:"metrics"`
}

// Pool is the bounded LRU set of agent processes. All mutations are
// serialized under one mutex; spawning happens inside it so two callers
// cannot race the same slot.
type Pool struct {
	cfg     *config.Config
	caches  *cache.Manager
	factory Factory

	mu        sync.Mutex
	procs     map[string]*Process
	order     []string // LRU order, oldest first
	bySession map[string]string
	closed    bool

	cron *cron.Cron
}

// New creates a pool. A nil factory spawns real agent transports.
func New(cfg *config.Config, caches *cache.Manager, factory Factory) *Pool {
	if factory == nil {
		factory = defaultFactory
	}
	return &Pool{
		cfg:       cfg,
		caches:    caches,
		factory:   factory,
		procs:     make(map[string]*Process),
		bySession: make(map[string]string),
	}
}

// Start begins the periodic health check.
func (p *Pool) Start() error {
	interval := time.Duration(p.cfg.Settings.HealthCheckInterval) * time.Millisecond
	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), p.healthCheck); err != nil {
		return iriserr.Wrap(iriserr.KindConfiguration, err, "failed to schedule pool health check")
	}
	c.Start()
	p.cron = c
	logger.Info("process pool started", "max_processes", p.cfg.Settings.MaxProcesses, "health_interval", interval)
	return nil
}

// GetOrCreateProcess returns the live process for the pair, spawning one
// if needed. At capacity the least recently used process is evicted
// first, preferring idle ones.
func (p *Pool) GetOrCreateProcess(ctx context.Context, fromTeam, toTeam, sessionID string) (*Process, error) {
	team, ok := p.cfg.Team(toTeam)
	if !ok {
		return nil, iriserr.New(iriserr.KindTeamNotFound, "unknown team: %s", toTeam)
	}
	key := Key(fromTeam, toTeam)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, iriserr.New(iriserr.KindTransport, "process pool is shut down")
	}

	if proc, ok := p.procs[key]; ok {
		if proc.Transport.Status() != transport.StatusStopped {
			p.touchLocked(key)
			proc.lastUsed = time.Now()
			return proc, nil
		}
		// Stale slot left behind by an exit the sweep has not seen yet.
		p.removeLocked(key)
	}

	if len(p.procs) >= p.cfg.Settings.MaxProcesses {
		p.evictLocked()
	}

	proc := &Process{
		Key:       key,
		FromTeam:  fromTeam,
		ToTeam:    toTeam,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		lastUsed:  time.Now(),
		team:      team,
	}
	proc.Transport = p.factory(team, sessionID, func() { p.handleExit(key, proc) })

	mc := p.caches.GetOrCreate(sessionID, fromTeam, toTeam)
	spawnEntry := mc.CreateEntry(cache.KindSpawn, "ping")

	timeout := team.InitTimeoutOr(p.cfg.Settings.SessionInitTimeout)
	if err := proc.Transport.Spawn(ctx, spawnEntry, timeout); err != nil {
		return nil, err
	}

	p.procs[key] = proc
	p.order = append(p.order, key)
	p.bySession[sessionID] = key
	metrics.PoolSize.Set(float64(len(p.procs)))

	logger.Info("agent process spawned",
		"key", key, "session_id", sessionID, "pid", proc.Transport.PID(), "pool_size", len(p.procs))
	return proc, nil
}

// Get returns the live process for the pair, if any.
func (p *Pool) Get(fromTeam, toTeam string) (*Process, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.procs[Key(fromTeam, toTeam)]
	return proc, ok
}

// GetBySession returns the process serving the given session, if any.
func (p *Pool) GetBySession(sessionID string) (*Process, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.bySession[sessionID]
	if !ok {
		return nil, false
	}
	proc, ok := p.procs[key]
	return proc, ok
}

// Size returns the number of pooled processes.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// Snapshots returns a consistent view of every slot, LRU order.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Snapshot, 0, len(p.procs))
	for _, key := range p.order {
		proc, ok := p.procs[key]
		if !ok {
			continue
		}
		out = append(out, Snapshot{
			Key:       proc.Key,
			FromTeam:  proc.FromTeam,
			ToTeam:    proc.ToTeam,
			SessionID: proc.SessionID,
			Status:    proc.Transport.Status().ProcessStatus(),
			PID:       proc.Transport.PID(),
			Metrics:   proc.Transport.Metrics(),
		})
	}
	return out
}

// TerminateProcess stops and removes the process with the given key.
// Reports whether one was found.
func (p *Pool) TerminateProcess(key string) bool {
	p.mu.Lock()
	proc, ok := p.procs[key]
	if ok {
		p.removeLocked(key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	if err := proc.Transport.Terminate(); err != nil {
		logger.Warn("failed to terminate process", "key", key, "err", err)
	}
	return true
}

// TerminateAll stops every process and shuts the pool down for good.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	p.closed = true
	procs := make([]*Process, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.procs = make(map[string]*Process)
	p.bySession = make(map[string]string)
	p.order = nil
	metrics.PoolSize.Set(0)
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	for _, proc := range procs {
		if err := proc.Transport.Terminate(); err != nil {
			logger.Warn("failed to terminate process", "key", proc.Key, "err", err)
		}
	}
	logger.Info("process pool shut down", "terminated", len(procs))
}

// evictLocked frees one slot: the least recently used idle process, or
// the least recently used overall when everything is busy. A busy
// victim's active request is terminated as manually cut off before the
// process goes down. Caller holds p.mu.
func (p *Pool) evictLocked() {
	if len(p.order) == 0 {
		return
	}

	victimKey := p.order[0]
	reason := "busy"
	for _, key := range p.order {
		if proc, ok := p.procs[key]; ok && proc.Transport.IsReady() {
			victimKey = key
			reason = "idle"
			break
		}
	}

	victim := p.procs[victimKey]
	p.removeLocked(victimKey)
	metrics.PoolEvictions.WithLabelValues(reason).Inc()
	logger.Info("evicting process from full pool", "key", victimKey, "reason", reason)

	if reason == "busy" {
		if mc, ok := p.caches.Get(victim.SessionID); ok {
			if active := mc.ActiveEntry(); active != nil {
				active.Terminate(cache.ReasonManualTermination)
			}
		}
	}
	if err := victim.Transport.Terminate(); err != nil {
		logger.Warn("failed to terminate evicted process", "key", victimKey, "err", err)
	}
}

// healthCheck drops dead slots and reaps processes idle past their
// team's idle timeout.
func (p *Pool) healthCheck() {
	p.mu.Lock()
	var reap []*Process
	for _, key := range append([]string(nil), p.order...) {
		proc, ok := p.procs[key]
		if !ok {
			continue
		}
		switch proc.Transport.Status() {
		case transport.StatusStopped:
			logger.Debug("health check dropping stopped process", "key", key)
			p.removeLocked(key)
		case transport.StatusReady:
			limit := proc.team.IdleTimeoutOr(p.cfg.Settings.IdleTimeout)
			if idle := p.idleForLocked(proc); idle > limit {
				logger.Info("terminating idle process", "key", key, "idle", idle)
				p.removeLocked(key)
				reap = append(reap, proc)
			}
		}
	}
	p.mu.Unlock()

	for _, proc := range reap {
		metrics.PoolEvictions.WithLabelValues("idle_timeout").Inc()
		if err := proc.Transport.Terminate(); err != nil {
			logger.Warn("failed to terminate idle process", "key", proc.Key, "err", err)
		}
	}
}

// idleForLocked returns how long a process has gone without activity.
// Caller holds p.mu.
func (p *Pool) idleForLocked(proc *Process) time.Duration {
	ref := proc.Transport.Metrics().LastResponseAt
	if proc.lastUsed.After(ref) {
		ref = proc.lastUsed
	}
	if ref.IsZero() {
		ref = proc.CreatedAt
	}
	return time.Since(ref)
}

// handleExit removes a slot when its child exits, unless the slot has
// already been replaced.
func (p *Pool) handleExit(key string, proc *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.procs[key]; ok && current == proc {
		p.removeLocked(key)
		logger.Debug("removed exited process from pool", "key", key, "pool_size", len(p.procs))
	}
}

// removeLocked deletes a slot from all indexes. Caller holds p.mu.
func (p *Pool) removeLocked(key string) {
	proc, ok := p.procs[key]
	if !ok {
		return
	}
	delete(p.procs, key)
	delete(p.bySession, proc.SessionID)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	metrics.PoolSize.Set(float64(len(p.procs)))
}

// touchLocked moves a key to the most recently used position. Caller
// holds p.mu.
func (p *Pool) touchLocked(key string) {
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			p.order = append(p.order, key)
			return
		}
	}
}
