// Package session persists the team-pair -> agent-session mapping.
//
// Each (fromTeam, toTeam) pair owns at most one session row. The agent
// keeps the conversation itself in its own session file; iris only
// tracks the ID, usage counters and lifecycle status.
package session

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HyphaGroup/iris/internal/iriserr"
	_ "modernc.org/sqlite"
)

// ExternalCaller is the fromTeam recorded for requests that arrive from
// outside any configured team.
const ExternalCaller = "external"

// Session statuses.
const (
	StatusActive         = "active"
	StatusCompactPending = "compact_pending"
	StatusArchived       = "archived"
)

// Session is one persisted team-pair session.
type Session struct {
	ID           int64
	FromTeam     string
	ToTeam       string
	SessionID    string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	MessageCount int64
	Status       string
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	FromTeam string
	ToTeam   string
	Status   string
	Limit    int
}

// Stats summarizes the session table.
type Stats struct {
	Total         int64 `json:"total"`
	Active        int64 `json:"active"`
	Archived      int64 `json:"archived"`
	TotalMessages int64 `json:"totalMessages"`
}

// Store handles session persistence
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, iriserr.Wrap(iriserr.KindConfiguration, err, "failed to create data directory")
	}

	// Enable WAL mode and busy timeout for better concurrent access
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindConfiguration, err, "failed to open session database")
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, iriserr.Wrap(iriserr.KindConfiguration, err, "failed to migrate session database")
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_team TEXT NOT NULL,
		to_team TEXT NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active'
	);
	DROP INDEX IF EXISTS idx_sessions_pair;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_pair_live
		ON sessions(from_team, to_team) WHERE status != 'archived';
	CREATE INDEX IF NOT EXISTS idx_sessions_last_used ON sessions(last_used_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new session row. Duplicate pairs or session IDs are
// reported as validation errors.
func (s *Store) Create(fromTeam, toTeam, sessionID string) (*Session, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO sessions (from_team, to_team, session_id, created_at, last_used_at, message_count, status)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		fromTeam, toTeam, sessionID, now.UnixMilli(), now.UnixMilli(), StatusActive,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, iriserr.Wrap(iriserr.KindValidation, err,
				"session already exists for %s->%s", fromTeam, toTeam)
		}
		return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to insert session")
	}

	id, _ := res.LastInsertId()
	return &Session{
		ID:         id,
		FromTeam:   fromTeam,
		ToTeam:     toTeam,
		SessionID:  sessionID,
		CreatedAt:  now,
		LastUsedAt: now,
		Status:     StatusActive,
	}, nil
}

const sessionColumns = `id, from_team, to_team, session_id, created_at, last_used_at, message_count, status`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var createdAt, lastUsedAt int64
	err := row.Scan(&sess.ID, &sess.FromTeam, &sess.ToTeam, &sess.SessionID,
		&createdAt, &lastUsedAt, &sess.MessageCount, &sess.Status)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastUsedAt = time.UnixMilli(lastUsedAt)
	return &sess, nil
}

// GetByTeamPair returns the live session for a (fromTeam, toTeam) pair.
// Archived rows are history, not the pair's session; the partial unique
// index guarantees at most one non-archived row per pair.
func (s *Store) GetByTeamPair(fromTeam, toTeam string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE from_team = ? AND to_team = ? AND status != ?`,
		fromTeam, toTeam, StatusArchived)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, iriserr.New(iriserr.KindSessionNotFound, "no session for %s->%s", fromTeam, toTeam)
	}
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to query session")
	}
	return sess, nil
}

// GetBySessionID returns the session owning the given agent session ID.
func (s *Store) GetBySessionID(sessionID string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, iriserr.New(iriserr.KindSessionNotFound, "no session %s", sessionID)
	}
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to query session")
	}
	return sess, nil
}

// List returns sessions matching the filter, most recently used first.
func (s *Store) List(filter *ListFilter) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	var conditions []string

	if filter != nil {
		if filter.FromTeam != "" {
			conditions = append(conditions, "from_team = ?")
			args = append(args, filter.FromTeam)
		}
		if filter.ToTeam != "" {
			conditions = append(conditions, "to_team = ?")
			args = append(args, filter.ToTeam)
		}
		if filter.Status != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, filter.Status)
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_used_at DESC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to list sessions")
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to scan session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateLastUsed stamps the session's last_used_at with the current time.
func (s *Store) UpdateLastUsed(sessionID string) error {
	return s.exec(`UPDATE sessions SET last_used_at = ? WHERE session_id = ?`,
		time.Now().UnixMilli(), sessionID)
}

// IncrementMessageCount adds by to the session's message counter.
func (s *Store) IncrementMessageCount(sessionID string, by int64) error {
	return s.exec(`UPDATE sessions SET message_count = message_count + ? WHERE session_id = ?`,
		by, sessionID)
}

// UpdateStatus sets the session's lifecycle status.
func (s *Store) UpdateStatus(sessionID, status string) error {
	return s.exec(`UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID)
}

// Delete removes a session row by agent session ID.
func (s *Store) Delete(sessionID string) error {
	return s.exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
}

// DeleteByTeamPair removes the session row for a team pair.
func (s *Store) DeleteByTeamPair(fromTeam, toTeam string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE from_team = ? AND to_team = ?`, fromTeam, toTeam)
	if err != nil {
		return iriserr.Wrap(iriserr.KindTransport, err, "failed to delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return iriserr.New(iriserr.KindSessionNotFound, "no session for %s->%s", fromTeam, toTeam)
	}
	return nil
}

// Stats returns aggregate counters over all sessions.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(message_count), 0)
		FROM sessions`, StatusActive, StatusArchived,
	).Scan(&st.Total, &st.Active, &st.Archived, &st.TotalMessages)
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindTransport, err, "failed to compute session stats")
	}
	return &st, nil
}

// exec runs a single-row mutation keyed by session_id and converts "no
// rows touched" into SessionNotFound.
func (s *Store) exec(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return iriserr.Wrap(iriserr.KindTransport, err, "session update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return iriserr.New(iriserr.KindSessionNotFound, "session not found")
	}
	return nil
}
