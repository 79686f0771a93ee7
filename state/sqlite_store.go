package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS key_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	secret     TEXT    NOT NULL,
	last_query INTEGER NOT NULL DEFAULT 0,
	last_cron  INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore keeps the state as the single row of a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted
// for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("state db: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state db schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (KeyState, error) {
	var st KeyState
	err := s.db.QueryRowContext(ctx,
		`SELECT secret, last_query, last_cron FROM key_state WHERE id = 1`,
	).Scan(&st.Key, &st.LastQuery, &st.LastCron)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyState{}, ErrNoKey
	}
	if err != nil {
		return KeyState{}, err
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st KeyState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO key_state (id, secret, last_query, last_cron) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET secret = excluded.secret,
		   last_query = excluded.last_query, last_cron = excluded.last_cron`,
		st.Key, st.LastQuery, st.LastCron,
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM key_state`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenStore returns the store for backend, "file" or "sqlite".
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
