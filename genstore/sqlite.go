package genstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generation (
    ns     TEXT PRIMARY KEY,
    active INTEGER NOT NULL
);
`

// SQLite persists the active generation across restarts. One row per
// namespace; typically shares the handle with the provider/queue stores.
type SQLite struct {
	db *sql.DB
	ns string
}

var _ Store = (*SQLite)(nil)

func NewSQLite(db *sql.DB, namespace string) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("genstore: nil db")
	}
	if namespace == "" {
		return nil, fmt.Errorf("genstore: namespace is required")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("genstore: ensure schema: %w", err)
	}
	return &SQLite{db: db, ns: namespace}, nil
}

func (s *SQLite) Active(ctx context.Context) (uint64, error) {
	var active int64
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM generation WHERE ns = ?`, s.ns).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(active), nil
}

func (s *SQLite) Activate(ctx context.Context, gen uint64) error {
	if gen == 0 {
		// 0 is the pre-activation state; the upsert below would otherwise
		// accept it as a first insert
		return ErrNotMonotonic
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO generation (ns, active) VALUES (?, ?)
		 ON CONFLICT(ns) DO UPDATE SET active = excluded.active WHERE excluded.active > generation.active`,
		s.ns, int64(gen),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotMonotonic
	}
	return nil
}

func (s *SQLite) Close(_ context.Context) error { return nil }
