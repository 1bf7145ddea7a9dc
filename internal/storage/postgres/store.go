package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/storage/sqlstore"
	"poolmirror/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for the mirror tables.
type Store struct {
	sqlstore.Reader

	pool *pgxpool.Pool
	b    sqlstore.Builder
}

var _ store.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	b := sqlstore.NewBuilder(sqlstore.Postgres)
	return &Store{
		Reader: sqlstore.Reader{B: b, Q: querier{q: pool}},
		pool:   pool,
		b:      b,
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return apperr.Persistence("migrate", err)
	}
	return nil
}

// WithinScope runs fn in a transaction holding pg_advisory_xact_lock for
// scope. The lock is released on commit or rollback.
func (s *Store) WithinScope(ctx context.Context, scope string, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Persistence("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
		return apperr.Persistence("lock scope", fmt.Errorf("%s: %w", scope, err))
	}

	if err := fn(&scopeTx{Tx: sqlstore.Tx{B: s.b, Q: querier{q: tx}}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Persistence("commit", fmt.Errorf("%s: %w", scope, err))
	}
	return nil
}

// scopeTx sends upserts as one pgx batch per call.
type scopeTx struct {
	sqlstore.Tx
	tx pgx.Tx
}

func (t *scopeTx) UpsertTokens(ctx context.Context, tokens []model.Token) error {
	return t.sendBatch(ctx, "upsert tokens", len(tokens), func(i int) (sqlstore.Statement, error) {
		return t.B.UpsertToken(tokens[i])
	})
}

func (t *scopeTx) UpsertPools(ctx context.Context, pools []model.Pool) error {
	return t.sendBatch(ctx, "upsert pools", len(pools), func(i int) (sqlstore.Statement, error) {
		return t.B.UpsertPool(pools[i])
	})
}

func (t *scopeTx) UpsertPositions(ctx context.Context, positions []model.Position) error {
	return t.sendBatch(ctx, "upsert positions", len(positions), func(i int) (sqlstore.Statement, error) {
		return t.B.UpsertPosition(positions[i])
	})
}

func (t *scopeTx) sendBatch(ctx context.Context, op string, n int, build func(int) (sqlstore.Statement, error)) error {
	if n == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		st, err := build(i)
		if err != nil {
			return err
		}
		batch.Queue(st.SQL, st.Args...)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return apperr.Persistence(op, err)
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	st, err := s.b.LoadState(name)
	if err != nil {
		return 0, false, err
	}
	var ts int64
	if err := s.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, apperr.Persistence("load state", err)
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	st, err := s.b.SaveState(name, ts, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, st.SQL, st.Args...); err != nil {
		return apperr.Persistence("save state", err)
	}
	return nil
}
