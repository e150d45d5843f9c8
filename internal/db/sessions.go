package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/events"
)

// DefaultSessionLimit caps Recent when the caller asks for zero rows.
const DefaultSessionLimit = 50

// Session is one journal row.
type Session struct {
	ID              int64      `json:"id"`
	ConnID          string     `json:"conn_id"`
	RemoteAddr      string     `json:"remote_addr"`
	Username        string     `json:"username,omitempty"`
	UUID            string     `json:"uuid,omitempty"`
	ProtocolVersion int        `json:"protocol_version,omitempty"`
	FinalPhase      string     `json:"final_phase,omitempty"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
	CloseReason     string     `json:"close_reason,omitempty"`
}

// Open reports whether the connection is still live.
func (s Session) Open() bool {
	return s.ClosedAt == nil
}

// SessionStats summarizes the journal.
type SessionStats struct {
	Total         int `json:"total"`
	Open          int `json:"open"`
	UniquePlayers int `json:"unique_players"`
}

// SessionJournal records connection lifecycles.
type SessionJournal struct {
	db *Database
}

// NewSessionJournal opens the journal at dbPath and migrates its schema.
func NewSessionJournal(dbPath string) (*SessionJournal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &SessionJournal{db: database}
	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session journal: %w", err)
	}
	return j, nil
}

func (j *SessionJournal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conn_id TEXT UNIQUE NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			uuid TEXT NOT NULL DEFAULT '',
			protocol_version INTEGER NOT NULL DEFAULT 0,
			final_phase TEXT NOT NULL DEFAULT '',
			opened_at INTEGER NOT NULL,
			closed_at INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			close_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_opened_at ON sessions(opened_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("session journal schema migrated")
	return nil
}

// Close closes the journal database.
func (j *SessionJournal) Close() error {
	return j.db.Close()
}

// RecordOpen inserts a row for a newly accepted connection.
func (j *SessionJournal) RecordOpen(p events.ConnectionPayload) error {
	// Handlers run concurrently, so a login or close may have created the
	// row first.
	_, err := j.db.Exec(
		`INSERT INTO sessions (conn_id, remote_addr, final_phase, opened_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conn_id) DO UPDATE SET
		     remote_addr = excluded.remote_addr,
		     opened_at = excluded.opened_at`,
		p.ConnID, p.RemoteAddr, p.Phase.String(), p.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record session open: %w", err)
	}
	return nil
}

// RecordLogin attaches the player identity to a session.
func (j *SessionJournal) RecordLogin(p events.LoginPayload) error {
	_, err := j.db.Exec(
		`INSERT INTO sessions (conn_id, username, uuid, protocol_version, opened_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(conn_id) DO UPDATE SET
		     username = excluded.username,
		     uuid = excluded.uuid,
		     protocol_version = excluded.protocol_version`,
		p.ConnID, p.Username, p.UUID, p.ProtocolVersion, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// RecordClose completes a session row. A connection that was never recorded
// as opened gets a row inserted so the close is not lost.
func (j *SessionJournal) RecordClose(p events.ConnectionPayload) error {
	closedAt := p.OpenedAt.Add(p.Duration)
	if p.OpenedAt.IsZero() {
		closedAt = time.Now()
	}

	return j.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO sessions (conn_id, remote_addr, opened_at)
			 VALUES (?, ?, ?)`,
			p.ConnID, p.RemoteAddr, p.OpenedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record session close: %w", err)
		}

		_, err = tx.Exec(
			`UPDATE sessions
			 SET final_phase = ?, closed_at = ?, duration_ms = ?, close_reason = ?,
			     username = CASE WHEN username = '' THEN ? ELSE username END
			 WHERE conn_id = ?`,
			p.Phase.String(), closedAt.UnixMilli(), p.Duration.Milliseconds(), p.Reason,
			p.Username, p.ConnID)
		if err != nil {
			return fmt.Errorf("failed to record session close: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit sessions, newest first.
func (j *SessionJournal) Recent(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}

	rows, err := j.db.Query(
		`SELECT id, conn_id, remote_addr, username, uuid, protocol_version,
		        final_phase, opened_at, closed_at, duration_ms, close_reason
		 FROM sessions
		 ORDER BY opened_at DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		var (
			s        Session
			openedAt int64
			closedAt sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.ConnID, &s.RemoteAddr, &s.Username, &s.UUID,
			&s.ProtocolVersion, &s.FinalPhase, &openedAt, &closedAt,
			&s.DurationMS, &s.CloseReason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.OpenedAt = time.UnixMilli(openedAt)
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64)
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Stats returns journal totals.
func (j *SessionJournal) Stats() (SessionStats, error) {
	var st SessionStats
	err := j.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN closed_at IS NULL THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT NULLIF(uuid, ''))
		 FROM sessions`).Scan(&st.Total, &st.Open, &st.UniquePlayers)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to query session stats: %w", err)
	}
	return st, nil
}

// Prune deletes closed sessions opened more than retention ago and returns
// how many were removed. Open sessions are kept regardless of age.
func (j *SessionJournal) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := j.db.Exec(
		"DELETE FROM sessions WHERE closed_at IS NOT NULL AND opened_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Dur("retention", retention).Msg("pruned session journal")
	}
	return n, nil
}

// CloseDangling marks sessions left open by a previous run as closed. It is
// called at startup before any connection is accepted.
func (j *SessionJournal) CloseDangling(reason string) (int64, error) {
	res, err := j.db.Exec(
		`UPDATE sessions SET closed_at = opened_at, close_reason = ?
		 WHERE closed_at IS NULL`, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Subscribe wires the journal to connection lifecycle events.
func (j *SessionJournal) Subscribe(bus *events.EventBus) {
	bus.SubscribeMany(events.ConnectionEvents, "session_journal", j.handleEvent)
}

func (j *SessionJournal) handleEvent(_ context.Context, e events.Event) error {
	switch p := e.Payload.(type) {
	case events.ConnectionPayload:
		if e.Type == events.EventConnectionOpened {
			return j.RecordOpen(p)
		}
		if e.Type == events.EventConnectionClosed {
			return j.RecordClose(p)
		}
	case events.LoginPayload:
		return j.RecordLogin(p)
	}
	return nil
}
