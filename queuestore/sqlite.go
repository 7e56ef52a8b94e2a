package queuestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mutations (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    key         TEXT NOT NULL,
    op          INTEGER NOT NULL,
    payload     BLOB,
    enqueued_at INTEGER NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    not_before  INTEGER NOT NULL DEFAULT 0,
    state       INTEGER NOT NULL,
    reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS mutations_key_seq ON mutations (key, seq);
`

// SQLite persists the mutation queue across process restarts. AUTOINCREMENT
// guarantees Seq never reuses values, so enqueue order is stable even after
// acknowledged mutations are deleted.
type SQLite struct {
	db      *sql.DB
	closeDB bool
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the queue store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("queuestore: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queuestore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queuestore: ping: %w", err)
	}
	s, err := NewSQLiteWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closeDB = true
	return s, nil
}

// NewSQLiteWithDB wraps an existing handle (e.g. shared with the sqlite
// provider) and ensures the schema. The owner closes the handle.
func NewSQLiteWithDB(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("queuestore: nil db")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("queuestore: ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, m Mutation) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mutations (id, key, op, payload, enqueued_at, attempts, last_error, not_before, state, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Key, int(m.Op), m.Payload, m.EnqueuedAt.UnixMilli(),
		m.Attempts, m.LastError, toMillis(m.NotBefore), int(m.State), m.Reason,
	)
	if err != nil {
		return 0, fmt.Errorf("queuestore: append: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) Update(ctx context.Context, m Mutation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mutations SET attempts = ?, last_error = ?, not_before = ?, state = ?, reason = ?
		 WHERE id = ?`,
		m.Attempts, m.LastError, toMillis(m.NotBefore), int(m.State), m.Reason, m.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("queuestore: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id.String())
	return err
}

func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (Mutation, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, id, key, op, payload, enqueued_at, attempts, last_error, not_before, state, reason
		 FROM mutations WHERE id = ?`, id.String())
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, false, nil
	}
	if err != nil {
		return Mutation{}, false, err
	}
	return m, true, nil
}

func (s *SQLite) List(ctx context.Context) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, key, op, payload, enqueued_at, attempts, last_error, not_before, state, reason
		 FROM mutations ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) Close(_ context.Context) error {
	if !s.closeDB {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(r rowScanner) (Mutation, error) {
	var (
		m          Mutation
		rawID      string
		op, state  int
		enqueuedAt int64
		notBefore  int64
	)
	if err := r.Scan(&m.Seq, &rawID, &m.Key, &op, &m.Payload, &enqueuedAt,
		&m.Attempts, &m.LastError, &notBefore, &state, &m.Reason); err != nil {
		return Mutation{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Mutation{}, fmt.Errorf("queuestore: bad id %q: %w", rawID, err)
	}
	m.ID = id
	m.Op = Op(op)
	m.State = State(state)
	m.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	m.NotBefore = fromMillis(notBefore)
	return m, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
