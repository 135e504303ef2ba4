package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/relay/core"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore keeps all partitions in one embedded SQLite database. It
// satisfies the Store interface and uses WAL mode so readers never block
// behind the single writer. SQLite's own locking replaces the per-file
// advisory locks of the JSONL backend.
//
// Every filter value is bound as a query parameter; user-supplied values
// are never concatenated into SQL text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at cfg.SQLitePath.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlitestore: open: %v", core.ErrUnavailable, err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: sqlitestore: set WAL mode: %v", core.ErrUnavailable, err)
	}
	// Bounded wait for the writer lock, mirroring the file backend's
	// advisory-lock timeout.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.LockTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: sqlitestore: set busy timeout: %v", core.ErrUnavailable, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: sqlitestore: create schema: %v", core.ErrUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append stores one envelope.
func (s *SQLiteStore) Append(ctx context.Context, env core.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, type, source, time, correlation_id, envelope)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID,
		env.Type,
		env.Source,
		env.Time.UTC().Format(time.RFC3339),
		env.CorrelationID,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// ReadFrom returns envelopes in insertion order starting at startLine
// (1-indexed).
func (s *SQLiteStore) ReadFrom(ctx context.Context, eventType string, startLine int) ([]core.Envelope, error) {
	if startLine < 1 {
		startLine = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope FROM events WHERE type = ? ORDER BY seq LIMIT -1 OFFSET ?`,
		eventType, startLine-1,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: read: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// Partitions lists distinct event types, sorted.
func (s *SQLiteStore) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type FROM events ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: partitions: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Count returns the number of stored envelopes for an event type.
func (s *SQLiteStore) Count(ctx context.Context, eventType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE type = ?`, eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count: %w", err)
	}
	return n, nil
}

// Compact deletes envelopes older than cutoff for the event type.
func (s *SQLiteStore) Compact(ctx context.Context, eventType string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE type = ? AND time < ?`,
		eventType, cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: compact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: compact rows: %w", err)
	}
	return int(n), nil
}

// Query applies the filter with every value bound as a parameter.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]core.Envelope, error) {
	q := `SELECT envelope FROM events WHERE 1=1`
	var args []any
	if f.Type != "" {
		q += ` AND type = ?`
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		q += ` AND time >= ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q += ` AND time <= ?`
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if f.Source != "" {
		q += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.CorrelationID != "" {
		q += ` AND correlation_id = ?`
		args = append(args, f.CorrelationID)
	}
	q += ` ORDER BY type, seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]core.Envelope, error) {
	var out []core.Envelope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan envelope: %w", err)
		}
		var env core.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode envelope: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}
