package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/store"
)

// Store implements SnapshotStore using SQLite. Each top-level snapshot
// field is one row, so a damaged field does not affect the others. The
// activity log lives in its own table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Verify interface compliance at compile time.
var _ store.SnapshotStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_fields (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_activity_log_seq ON activity_log(seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load assembles the snapshot from the stored fields.
func (s *Store) Load(ctx context.Context) (*domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM snapshot_fields`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		fields[name] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := store.Decode(fields, s.now())

	logs, err := s.logs(ctx)
	if err != nil {
		return nil, err
	}
	if len(logs) > 0 || len(fields) > 0 {
		snap.Logs = logs
	}
	return snap, nil
}

// logs returns the activity log, newest first.
func (s *Store) logs(ctx context.Context) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, user_id, action, details FROM activity_log ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Details); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// Save writes every snapshot field and replaces the activity log in one
// transaction.
func (s *Store) Save(ctx context.Context, snap *domain.Snapshot) error {
	fields, err := store.Fields(snap)
	if err != nil {
		return err
	}
	delete(fields, store.FieldLogs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	for name, value := range fields {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_fields (name, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			name, string(value), now,
		)
		if err != nil {
			return fmt.Errorf("save field %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_log`); err != nil {
		return err
	}
	// Logs are held newest first; the oldest gets the lowest sequence number.
	for i := len(snap.Logs) - 1; i >= 0; i-- {
		e := snap.Logs[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO activity_log (id, seq, timestamp, user_id, action, details) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, len(snap.Logs)-i, e.Timestamp.UTC(), e.UserID, e.Action, e.Details,
		)
		if err != nil {
			return fmt.Errorf("save log %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
