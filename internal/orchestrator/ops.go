package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/pool"
	"github.com/HyphaGroup/iris/internal/session"
	"github.com/HyphaGroup/iris/internal/transport"
	"github.com/HyphaGroup/iris/internal/validation"
)

// WakeResult reports one team's wake outcome.
type WakeResult struct {
	Team   string `json:"team"`
	Status string `json:"status"` // awake | already_awake | error
	Error  string `json:"error,omitempty"`
}

// Wake ensures a session and a live process for each team. Teams are
// woken one after another unless parallel is set.
func (o *Orchestrator) Wake(ctx context.Context, teams []string, parallel bool) []WakeResult {
	results := make([]WakeResult, len(teams))

	if !parallel {
		for i, team := range teams {
			results[i] = o.wakeOne(ctx, team)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, team := range teams {
		wg.Add(1)
		go func(i int, team string) {
			defer wg.Done()
			results[i] = o.wakeOne(ctx, team)
		}(i, team)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) wakeOne(ctx context.Context, team string) WakeResult {
	if proc, ok := o.procs.Get(session.ExternalCaller, team); ok &&
		proc.Transport.Status() != transport.StatusStopped {
		return WakeResult{Team: team, Status: "already_awake"}
	}

	sess, err := o.sessions.GetOrCreateSession(ctx, session.ExternalCaller, team)
	if err != nil {
		return WakeResult{Team: team, Status: "error", Error: err.Error()}
	}
	if _, err := o.procs.GetOrCreateProcess(ctx, session.ExternalCaller, team, sess.SessionID); err != nil {
		return WakeResult{Team: team, Status: "error", Error: err.Error()}
	}
	return WakeResult{Team: team, Status: "awake"}
}

// SleepResult reports a sleep outcome.
type SleepResult struct {
	Team         string `json:"team"`
	Status       string `json:"status"` // asleep | already_asleep
	LostRequests int    `json:"lost_requests,omitempty"`
}

// Sleep terminates the team's process. A busy process is only cut off
// when force is set, and the abandoned request count is reported back.
func (o *Orchestrator) Sleep(team string, force, clearCache bool) (*SleepResult, error) {
	if err := validation.ValidateTeamName(team); err != nil {
		return nil, err
	}

	proc, ok := o.procs.Get(session.ExternalCaller, team)
	if !ok || proc.Transport.Status() == transport.StatusStopped {
		return &SleepResult{Team: team, Status: "already_asleep"}, nil
	}

	lost := 0
	if proc.Transport.IsBusy() {
		if !force {
			return nil, iriserr.New(iriserr.KindProcessBusy,
				"agent for %s is processing; use force to cut it off", team)
		}
		if mc, cok := o.caches.Get(proc.SessionID); cok {
			if active := mc.ActiveEntry(); active != nil {
				active.Terminate(cache.ReasonManualTermination)
				lost = 1
			}
		}
	}

	o.procs.TerminateProcess(proc.Key)

	if clearCache {
		if mc, cok := o.caches.Get(proc.SessionID); cok {
			removed := mc.Clear()
			logger.Debug("cleared cache on sleep", "team", team, "removed", removed)
		}
	}

	logger.Info("team put to sleep", "team", team, "forced", force, "lost_requests", lost)
	return &SleepResult{Team: team, Status: "asleep", LostRequests: lost}, nil
}

// Reboot tears a pair's state down completely and builds a fresh
// session: process terminated, session row and file deleted, cache
// dropped. Teardown failures are logged and skipped so a half-broken
// pair can still be recovered.
func (o *Orchestrator) Reboot(ctx context.Context, fromTeam, toTeam string) (*session.Session, error) {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	if err := validation.ValidateTeamName(toTeam); err != nil {
		return nil, err
	}

	o.procs.TerminateProcess(pool.Key(fromTeam, toTeam))

	old, err := o.sessions.Store().GetByTeamPair(fromTeam, toTeam)
	if err == nil {
		if err := o.sessions.DeleteSession(old.SessionID, true); err != nil {
			logger.Warn("reboot could not delete old session",
				"session_id", old.SessionID, "err", err)
		}
		o.caches.Delete(old.SessionID)
	} else if !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		return nil, err
	}

	fresh, err := o.sessions.GetOrCreateSession(ctx, fromTeam, toTeam)
	if err != nil {
		return nil, err
	}
	logger.Info("pair rebooted", "from", fromTeam, "to", toTeam, "session_id", fresh.SessionID)
	return fresh, nil
}

// CompactOptions tunes a compact run.
type CompactOptions struct {
	TimeoutMs int64
	Retries   int
}

// Compact shrinks a pair's conversation context with a one-shot
// `/compact` invocation, retrying on failure. The pair's process is
// terminated first so the next tell resumes from the compacted session.
func (o *Orchestrator) Compact(ctx context.Context, fromTeam, toTeam string, opts CompactOptions) error {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	sess, err := o.sessions.Store().GetByTeamPair(fromTeam, toTeam)
	if err != nil {
		return err
	}
	team, ok := o.cfg.Team(toTeam)
	if !ok {
		return iriserr.New(iriserr.KindTeamNotFound, "unknown team: %s", toTeam)
	}

	o.procs.TerminateProcess(pool.Key(fromTeam, toTeam))

	if err := o.sessions.Store().UpdateStatus(sess.SessionID, session.StatusCompactPending); err != nil {
		logger.Warn("failed to mark session compact_pending", "session_id", sess.SessionID, "err", err)
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(o.cfg.Settings.SessionInitTimeout) * time.Millisecond
	}
	attempts := opts.Retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := o.runner(runCtx, team, transport.CompactArgs(sess.SessionID))
		cancel()
		if err == nil {
			if err := o.sessions.Store().UpdateStatus(sess.SessionID, session.StatusActive); err != nil {
				logger.Warn("failed to mark session active", "session_id", sess.SessionID, "err", err)
			}
			logger.Info("session compacted",
				"session_id", sess.SessionID, "attempt", attempt, "output_bytes", len(out))
			return nil
		}
		lastErr = err
		logger.Warn("compact attempt failed",
			"session_id", sess.SessionID, "attempt", attempt, "err", err)
	}
	return iriserr.Wrap(iriserr.KindTransport, lastErr,
		"compact failed for %s after %d attempts", toTeam, attempts)
}

// Cancel sends a best-effort interrupt to the pair's agent. Reports
// whether a live process was found; the agent may ignore the interrupt.
func (o *Orchestrator) Cancel(fromTeam, toTeam string) (bool, error) {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	proc, ok := o.procs.Get(fromTeam, toTeam)
	if !ok || proc.Transport.Status() == transport.StatusStopped {
		return false, nil
	}
	if err := proc.Transport.Cancel(); err != nil {
		logger.Warn("interrupt failed", "key", proc.Key, "err", err)
		return true, err
	}
	logger.Info("interrupt sent", "key", proc.Key)
	return true, nil
}

// AwakeStatus is the IsAwake reply.
type AwakeStatus struct {
	Team   string                  `json:"team"`
	Awake  bool                    `json:"awake"`
	Status transport.ProcessStatus `json:"status"`
	PID    int                     `json:"pid,omitempty"`
}

// IsAwake reports whether a live process serves the pair.
func (o *Orchestrator) IsAwake(fromTeam, toTeam string) AwakeStatus {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	proc, ok := o.procs.Get(fromTeam, toTeam)
	if !ok {
		return AwakeStatus{Team: toTeam, Status: transport.ProcessStopped}
	}
	status := proc.Transport.Status().ProcessStatus()
	return AwakeStatus{
		Team:   toTeam,
		Awake:  status != transport.ProcessStopped,
		Status: status,
		PID:    proc.Transport.PID(),
	}
}

// TeamInfo describes one configured team for clients.
type TeamInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Remote      bool   `json:"remote"`
	Color       string `json:"color,omitempty"`
	Awake       bool   `json:"awake"`
}

// Teams lists the configured teams and whether each is awake.
func (o *Orchestrator) Teams() []TeamInfo {
	names := o.cfg.TeamNames()
	out := make([]TeamInfo, 0, len(names))
	for _, name := range names {
		team, _ := o.cfg.Team(name)
		out = append(out, TeamInfo{
			Name:        name,
			Description: team.Description,
			Path:        team.Path,
			Remote:      team.IsRemote(),
			Color:       team.Color,
			Awake:       o.IsAwake(session.ExternalCaller, name).Awake,
		})
	}
	return out
}

// Report is the orchestrator-wide status snapshot.
type Report struct {
	Teams      []TeamInfo      `json:"teams"`
	Processes  []pool.Snapshot `json:"processes"`
	Sessions   *session.Stats  `json:"sessions,omitempty"`
	QueueDepth int             `json:"queue_depth"`
	Caches     int             `json:"caches"`
}

// GetReport collects a consistent status snapshot for clients and the
// dashboard.
func (o *Orchestrator) GetReport() *Report {
	report := &Report{
		Teams:      o.Teams(),
		Processes:  o.procs.Snapshots(),
		QueueDepth: o.queue.Depth(),
		Caches:     o.caches.Len(),
	}
	stats, err := o.sessions.Store().Stats()
	if err != nil {
		logger.Warn("failed to read session stats", "err", err)
	} else {
		report.Sessions = stats
	}
	return report
}
