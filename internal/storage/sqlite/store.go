package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"poolmirror/internal/apperr"
	"poolmirror/internal/storage/sqlstore"
	"poolmirror/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is an embedded SQLite mirror. A single connection serializes
// every transaction, which covers per-scope exclusion.
type Store struct {
	sqlstore.Reader

	db *sql.DB
	b  sqlstore.Builder
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := sqlstore.NewBuilder(sqlstore.SQLite)
	return &Store{
		Reader: sqlstore.Reader{B: b, Q: querier{q: db}},
		db:     db,
		b:      b,
	}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return apperr.Persistence("migrate", err)
	}
	return nil
}

func (s *Store) WithinScope(ctx context.Context, scope string, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("begin", fmt.Errorf("%s: %w", scope, err))
	}
	defer tx.Rollback()

	if err := fn(sqlstore.Tx{B: s.b, Q: querier{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Persistence("commit", fmt.Errorf("%s: %w", scope, err))
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	st, err := s.b.LoadState(name)
	if err != nil {
		return 0, false, err
	}
	var ts int64
	if err := s.db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, apperr.Persistence("load state", err)
	}
	return uint64(ts), true, nil
}

func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	st, err := s.b.SaveState(name, ts, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, st.SQL, st.Args...); err != nil {
		return apperr.Persistence("save state", err)
	}
	return nil
}
