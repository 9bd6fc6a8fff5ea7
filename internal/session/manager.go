package session

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/metrics"
	"github.com/HyphaGroup/iris/internal/transport"
	"github.com/HyphaGroup/iris/internal/validation"
)

// Manager ties the session store to the configured teams and the agent
// bootstrap invocation.
type Manager struct {
	store *Store
	cfg   *config.Config
	run   transport.Runner
}

// NewManager opens the session store at dbPath. A nil runner uses the
// real one-shot agent invocation; tests pass a fake.
func NewManager(cfg *config.Config, dbPath string, run transport.Runner) (*Manager, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if run == nil {
		run = transport.RunOneShot
	}
	return &Manager{store: store, cfg: cfg, run: run}, nil
}

// Store exposes the underlying store for read-only queries.
func (m *Manager) Store() *Store { return m.store }

// Close releases the store.
func (m *Manager) Close() error { return m.store.Close() }

// Initialize ensures every configured team has an (external, team)
// session so external callers can tell any team without a warm-up step.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, name := range m.cfg.TeamNames() {
		if _, err := m.GetOrCreateSession(ctx, ExternalCaller, name); err != nil {
			logger.Error("failed to initialize session", "team", name, "err", err)
			return err
		}
	}
	return nil
}

// GetOrCreateSession returns the session for the pair, creating and
// bootstrapping a fresh one when none exists. Bootstrapping runs the
// agent once so it materializes its session file; if that fails the row
// is removed again and the error surfaces.
func (m *Manager) GetOrCreateSession(ctx context.Context, fromTeam, toTeam string) (*Session, error) {
	if err := validation.ValidateTeamName(fromTeam); err != nil {
		return nil, err
	}
	if err := validation.ValidateTeamName(toTeam); err != nil {
		return nil, err
	}
	team, ok := m.cfg.Team(toTeam)
	if !ok {
		return nil, iriserr.New(iriserr.KindTeamNotFound, "unknown team: %s", toTeam)
	}

	if sess, err := m.store.GetByTeamPair(fromTeam, toTeam); err == nil {
		return sess, nil
	} else if !iriserr.IsKind(err, iriserr.KindSessionNotFound) {
		return nil, err
	}

	sessionID := uuid.New().String()
	sess, err := m.store.Create(fromTeam, toTeam, sessionID)
	if err != nil {
		return nil, err
	}

	logger.Info("bootstrapping new session",
		"from", fromTeam, "to", toTeam, "session_id", sessionID)
	if out, err := m.run(ctx, team, transport.BootstrapArgs(sessionID)); err != nil {
		_ = m.store.Delete(sessionID)
		logger.Error("session bootstrap failed",
			"team", toTeam, "session_id", sessionID, "output", out, "err", err)
		return nil, iriserr.Wrap(iriserr.KindTransport, err,
			"failed to bootstrap session for %s", toTeam)
	}
	metrics.SessionsBootstrapped.Inc()

	return sess, nil
}

// DeleteSession removes the session row and, when requested, the
// agent's on-disk session file.
func (m *Manager) DeleteSession(sessionID string, deleteFile bool) error {
	sess, err := m.store.GetBySessionID(sessionID)
	if err != nil {
		return err
	}

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}

	if deleteFile {
		team, ok := m.cfg.Team(sess.ToTeam)
		if !ok {
			logger.Warn("session file kept, team no longer configured",
				"team", sess.ToTeam, "session_id", sessionID)
			return nil
		}
		path, err := validation.SessionFilePath(team.Path, sessionID)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return iriserr.Wrap(iriserr.KindTransport, err,
				"failed to delete session file for %s", sessionID)
		}
	}
	return nil
}
