// Package orchestrator mediates tell-style messaging between teams.
//
// It owns the glue: sessions give a tell its conversation, the pool
// gives it a live agent process, the cache records the reply stream,
// and the queue carries fire-and-forget requests.
package orchestrator

import (
	"context"
	"time"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
	"github.com/HyphaGroup/iris/internal/pool"
	"github.com/HyphaGroup/iris/internal/session"
	"github.com/HyphaGroup/iris/internal/transport"
	"github.com/HyphaGroup/iris/internal/validation"
)

// Tell outcome statuses.
const (
	TellCompleted = "completed"
	TellBusy      = "busy"
	TellQueued    = "queued"
)

// TellOptions tunes one tell request.
type TellOptions struct {
	// TimeoutMs bounds the wait for the agent's result. 0 waits forever,
	// validation.TimeoutAsync queues the tell instead of waiting.
	TimeoutMs int64

	// WaitForResponse false is equivalent to TimeoutMs == TimeoutAsync.
	WaitForResponse bool

	// ClearCache drops the session's finished entries before sending.
	// Nil means true.
	ClearCache *bool
}

// TellResult is the reply to a tell.
type TellResult struct {
	Status     string `json:"status"`
	Response   string `json:"response,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Orchestrator wires sessions, the process pool, the message cache and
// the async queue into the tell/wake/sleep operation surface.
type Orchestrator struct {
	cfg      *config.Config
	sessions *session.Manager
	procs    *pool.Pool
	caches   *cache.Manager
	queue    *Queue
	limiter  *RateLimiter
	runner   transport.Runner
}

// New builds an orchestrator over the given components. A nil runner
// uses the real one-shot agent invocation for compact.
func New(cfg *config.Config, sessions *session.Manager, procs *pool.Pool, caches *cache.Manager, runner transport.Runner) *Orchestrator {
	if runner == nil {
		runner = transport.RunOneShot
	}
	capacity := cfg.Settings.QueueCapacity
	if capacity <= 0 {
		capacity = config.DefaultQueueCapacity
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		procs:    procs,
		caches:   caches,
		queue:    NewQueue(capacity),
		limiter:  NewRateLimiter(cfg.Settings.RateLimitPerSecond, cfg.Settings.RateLimitBurst),
		runner:   runner,
	}
}

// Start launches the async queue worker.
func (o *Orchestrator) Start() { o.queue.Start() }

// Stop drains the queue worker. The pool and sessions are owned by the
// caller and shut down separately.
func (o *Orchestrator) Stop() { o.queue.Stop() }

// Queue exposes the async queue for reporting.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// Tell sends a message to a team and, unless asked not to, waits for
// the agent's result text.
func (o *Orchestrator) Tell(ctx context.Context, fromTeam, toTeam, message string, opts TellOptions) (*TellResult, error) {
	if fromTeam == "" {
		fromTeam = session.ExternalCaller
	}
	if err := validation.ValidateTeamName(fromTeam); err != nil {
		return nil, err
	}
	if err := validation.ValidateTeamName(toTeam); err != nil {
		return nil, err
	}
	if message == "" {
		return nil, iriserr.Validation("message", "message cannot be empty")
	}
	if err := validation.ValidateTimeout(opts.TimeoutMs); err != nil {
		return nil, err
	}
	if !o.limiter.Allow(fromTeam) {
		metrics.TellsTotal.WithLabelValues(toTeam, "rate_limited").Inc()
		return nil, iriserr.New(iriserr.KindProcessBusy, "rate limit exceeded for %s", fromTeam)
	}

	if !opts.WaitForResponse || opts.TimeoutMs == validation.TimeoutAsync {
		return o.tellAsync(fromTeam, toTeam, message, opts)
	}
	return o.tellSync(ctx, fromTeam, toTeam, message, opts)
}

// tellAsync queues the tell and returns immediately with a task ID.
func (o *Orchestrator) tellAsync(fromTeam, toTeam, message string, opts TellOptions) (*TellResult, error) {
	taskOpts := opts
	taskOpts.WaitForResponse = true
	taskOpts.TimeoutMs = config.DefaultResponseTimeoutMs

	taskID, err := o.queue.Enqueue("tell "+pool.Key(fromTeam, toTeam), func(ctx context.Context) error {
		_, err := o.tellSync(ctx, fromTeam, toTeam, message, taskOpts)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.TellsTotal.WithLabelValues(toTeam, "queued").Inc()
	return &TellResult{Status: TellQueued, TaskID: taskID}, nil
}

// tellSync runs the full pipeline and waits for the result.
func (o *Orchestrator) tellSync(ctx context.Context, fromTeam, toTeam, message string, opts TellOptions) (*TellResult, error) {
	start := time.Now()

	sess, err := o.sessions.GetOrCreateSession(ctx, fromTeam, toTeam)
	if err != nil {
		metrics.TellsTotal.WithLabelValues(toTeam, "error").Inc()
		return nil, err
	}

	proc, err := o.procs.GetOrCreateProcess(ctx, fromTeam, toTeam, sess.SessionID)
	if err != nil {
		metrics.TellsTotal.WithLabelValues(toTeam, "error").Inc()
		return nil, err
	}

	// A busy agent keeps its in-flight work; the caller gets told to
	// come back rather than having the current request cut off.
	if !proc.Transport.IsReady() {
		metrics.TellsTotal.WithLabelValues(toTeam, "busy").Inc()
		return &TellResult{Status: TellBusy, SessionID: sess.SessionID}, nil
	}

	mc := o.caches.GetOrCreate(sess.SessionID, fromTeam, toTeam)
	if opts.ClearCache == nil || *opts.ClearCache {
		if removed := mc.Clear(); removed > 0 {
			logger.Debug("cleared finished cache entries",
				"session_id", sess.SessionID, "removed", removed)
		}
	}

	entry := mc.CreateEntry(cache.KindTell, message)
	if err := proc.Transport.ExecuteTell(entry); err != nil {
		if iriserr.IsKind(err, iriserr.KindProcessBusy) {
			entry.Terminate(cache.ReasonManualTermination)
			metrics.TellsTotal.WithLabelValues(toTeam, "busy").Inc()
			return &TellResult{Status: TellBusy, SessionID: sess.SessionID}, nil
		}
		metrics.TellsTotal.WithLabelValues(toTeam, "error").Inc()
		return nil, err
	}

	result, err := o.awaitResult(ctx, entry, toTeam, opts.TimeoutMs)
	if err != nil {
		metrics.TellsTotal.WithLabelValues(toTeam, string(iriserr.KindOf(err))).Inc()
		return nil, err
	}

	if err := o.sessions.Store().IncrementMessageCount(sess.SessionID, 1); err != nil {
		logger.Warn("failed to bump message count", "session_id", sess.SessionID, "err", err)
	}
	if err := o.sessions.Store().UpdateLastUsed(sess.SessionID); err != nil {
		logger.Warn("failed to stamp session", "session_id", sess.SessionID, "err", err)
	}

	elapsed := time.Since(start)
	metrics.TellsTotal.WithLabelValues(toTeam, "completed").Inc()
	metrics.TellDuration.WithLabelValues(toTeam).Observe(elapsed.Seconds())

	return &TellResult{
		Status:     TellCompleted,
		Response:   result,
		SessionID:  sess.SessionID,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// awaitResult blocks until the entry reaches a terminal state or the
// timeout fires. On timeout only the entry is terminated; the process
// keeps running and will finish its work unobserved.
func (o *Orchestrator) awaitResult(ctx context.Context, entry *cache.Entry, toTeam string, timeoutMs int64) (string, error) {
	var timer <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		timer = t.C
	}

	statusCh := entry.StatusChanges()
	for {
		select {
		case status, ok := <-statusCh:
			if !ok {
				// Stream closed; the entry is terminal by now.
				if entry.Status() == cache.EntryCompleted {
					return resultText(entry), nil
				}
				return "", terminationError(entry, toTeam)
			}
			switch status {
			case cache.EntryCompleted:
				return resultText(entry), nil
			case cache.EntryTerminated:
				return "", terminationError(entry, toTeam)
			}
		case <-timer:
			entry.Terminate(cache.ReasonResponseTimeout)
			return "", iriserr.New(iriserr.KindResponseTimeout,
				"no response from %s within %dms", toTeam, timeoutMs)
		case <-ctx.Done():
			entry.Terminate(cache.ReasonManualTermination)
			return "", iriserr.Wrap(iriserr.KindResponseTimeout, ctx.Err(),
				"tell to %s canceled", toTeam)
		}
	}
}

// resultText pulls the agent's final answer out of the entry's frames.
func resultText(entry *cache.Entry) string {
	frames := entry.Messages()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == cache.MessageResult {
			return frames[i].ResultText()
		}
	}
	return ""
}

// terminationError maps a terminated entry onto the caller-facing error.
func terminationError(entry *cache.Entry, toTeam string) error {
	switch entry.Reason() {
	case cache.ReasonProcessCrashed:
		return iriserr.New(iriserr.KindProcessCrashed, "agent for %s crashed mid-request", toTeam)
	case cache.ReasonResponseTimeout:
		return iriserr.New(iriserr.KindResponseTimeout, "request to %s timed out", toTeam)
	default:
		return iriserr.New(iriserr.KindProcessCrashed, "request to %s was cut off", toTeam)
	}
}
