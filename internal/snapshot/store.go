// Package snapshot persists session state to sqlite so a crashed
// autonomous run can resume from its last recorded phase. A session is
// fully re-constructible from one snapshot: phase, budget usage,
// operation history, and requirement set.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/model"
	"github.com/ppiankov/overseer/internal/phase"
	"github.com/ppiankov/overseer/internal/require"
)

// Snapshot is the full persisted state of one session.
type Snapshot struct {
	SessionID    string
	Phase        phase.State
	Autonomy     string
	Iteration    int
	Usage        budget.Usage
	Operations   []model.Operation
	Requirements []require.Requirement
	UpdatedAt    time.Time
}

// Store is a sqlite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		autonomy TEXT NOT NULL DEFAULT '',
		iteration INTEGER NOT NULL DEFAULT 0,
		usage JSON NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		tool TEXT NOT NULL,
		input JSON,
		result TEXT,
		error TEXT,
		metadata JSON,
		PRIMARY KEY (session_id, seq)
	);
	CREATE TABLE IF NOT EXISTS requirements (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data JSON NOT NULL,
		PRIMARY KEY (session_id, seq)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("snapshot: migrate: %w", err)
	}
	return nil
}

// Save writes a full snapshot, replacing any previous state for the
// session. The write is transactional: a reader never observes a
// half-replaced session.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("snapshot: empty session id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	usageJSON, err := json.Marshal(snap.Usage)
	if err != nil {
		return fmt.Errorf("snapshot: marshal usage: %w", err)
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, phase, autonomy, iteration, usage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			phase = excluded.phase,
			autonomy = excluded.autonomy,
			iteration = excluded.iteration,
			usage = excluded.usage,
			updated_at = excluded.updated_at`,
		snap.SessionID, string(snap.Phase), snap.Autonomy, snap.Iteration,
		string(usageJSON), updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("snapshot: upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE session_id = ?`, snap.SessionID); err != nil {
		return fmt.Errorf("snapshot: clear operations: %w", err)
	}
	for i, op := range snap.Operations {
		inputJSON, err := json.Marshal(op.Input)
		if err != nil {
			return fmt.Errorf("snapshot: marshal input for %s: %w", op.ID, err)
		}
		metaJSON, err := json.Marshal(op.Metadata)
		if err != nil {
			return fmt.Errorf("snapshot: marshal metadata for %s: %w", op.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO operations (id, session_id, seq, timestamp, tool, input, result, error, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, snap.SessionID, i, op.Timestamp.UTC().Format(time.RFC3339Nano),
			op.Tool, string(inputJSON), op.Result, op.Error, string(metaJSON),
		)
		if err != nil {
			return fmt.Errorf("snapshot: insert operation %s: %w", op.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requirements WHERE session_id = ?`, snap.SessionID); err != nil {
		return fmt.Errorf("snapshot: clear requirements: %w", err)
	}
	for i, r := range snap.Requirements {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("snapshot: marshal requirement %s: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO requirements (id, session_id, seq, data)
			VALUES (?, ?, ?, ?)`,
			r.ID, snap.SessionID, i, string(data),
		)
		if err != nil {
			return fmt.Errorf("snapshot: insert requirement %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Load reads the snapshot for a session. The second return is false when
// no snapshot exists.
func (s *Store) Load(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	var (
		snap      Snapshot
		phaseStr  string
		usageJSON string
		updatedAt string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT phase, autonomy, iteration, usage, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	err := row.Scan(&phaseStr, &snap.Autonomy, &snap.Iteration, &usageJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: load session: %w", err)
	}
	snap.SessionID = sessionID
	snap.Phase = phase.State(phaseStr)
	if err := json.Unmarshal([]byte(usageJSON), &snap.Usage); err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: decode usage: %w", err)
	}
	snap.UpdatedAt = parseTime(updatedAt)

	snap.Operations, err = s.loadOperations(ctx, sessionID)
	if err != nil {
		return Snapshot{}, false, err
	}
	snap.Requirements, err = s.loadRequirements(ctx, sessionID)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) loadOperations(ctx context.Context, sessionID string) ([]model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, tool, input, result, error, metadata
		FROM operations WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []model.Operation
	for rows.Next() {
		var (
			op        model.Operation
			ts        string
			inputJSON sql.NullString
			result    sql.NullString
			errStr    sql.NullString
			metaJSON  sql.NullString
		)
		if err := rows.Scan(&op.ID, &ts, &op.Tool, &inputJSON, &result, &errStr, &metaJSON); err != nil {
			return nil, fmt.Errorf("snapshot: scan operation: %w", err)
		}
		op.Timestamp = parseTime(ts)
		op.Result = result.String
		op.Error = errStr.String
		if inputJSON.Valid && inputJSON.String != "" {
			_ = json.Unmarshal([]byte(inputJSON.String), &op.Input)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &op.Metadata)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: iterate operations: %w", err)
	}
	return ops, nil
}

func (s *Store) loadRequirements(ctx context.Context, sessionID string) ([]require.Requirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM requirements WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load requirements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reqs []require.Requirement
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("snapshot: scan requirement: %w", err)
		}
		var r require.Requirement
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("snapshot: decode requirement: %w", err)
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: iterate requirements: %w", err)
	}
	return reqs, nil
}

// Sessions lists known session ids, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("snapshot: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: iterate sessions: %w", err)
	}
	return ids, nil
}

// Delete removes a session and its history.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"operations", "requirements", "sessions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("snapshot: delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
