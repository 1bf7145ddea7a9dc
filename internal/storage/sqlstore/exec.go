package sqlstore

import (
	"context"
	"fmt"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/store"
)

// Rows is the iteration surface shared by the engines' result sets.
type Rows interface {
	Scanner
	Next() bool
	Err() error
	Close()
}

// Querier executes rendered statements against a pool, a connection or a
// transaction.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Tx implements store.Tx on top of a Querier.
type Tx struct {
	B Builder
	Q Querier
}

func (t Tx) UpsertTokens(ctx context.Context, tokens []model.Token) error {
	for _, token := range tokens {
		st, err := t.B.UpsertToken(token)
		if err != nil {
			return err
		}
		if _, err := t.Q.Exec(ctx, st.SQL, st.Args...); err != nil {
			return apperr.Persistence("upsert token", fmt.Errorf("%s: %w", token.ID, err))
		}
	}
	return nil
}

func (t Tx) UpsertPools(ctx context.Context, pools []model.Pool) error {
	for _, pool := range pools {
		st, err := t.B.UpsertPool(pool)
		if err != nil {
			return err
		}
		if _, err := t.Q.Exec(ctx, st.SQL, st.Args...); err != nil {
			return apperr.Persistence("upsert pool", fmt.Errorf("%s: %w", pool.ID, err))
		}
	}
	return nil
}

func (t Tx) UpsertPositions(ctx context.Context, positions []model.Position) error {
	for _, pos := range positions {
		st, err := t.B.UpsertPosition(pos)
		if err != nil {
			return err
		}
		if _, err := t.Q.Exec(ctx, st.SQL, st.Args...); err != nil {
			return apperr.Persistence("upsert position", fmt.Errorf("%s/%d: %w", pos.PoolID, pos.Index, err))
		}
	}
	return nil
}

func (t Tx) DeletePositionsNotIn(ctx context.Context, poolID string, keep []int32) (int64, error) {
	st, err := t.B.DeletePositionsNotIn(poolID, keep)
	if err != nil {
		return 0, err
	}
	n, err := t.Q.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, apperr.Persistence("delete stale positions", fmt.Errorf("%s: %w", poolID, err))
	}
	return n, nil
}

func (t Tx) PositionIndexes(ctx context.Context, poolID string) ([]int32, error) {
	st, err := t.B.PositionIndexes(poolID)
	if err != nil {
		return nil, err
	}
	return collect(ctx, t.Q, st, "list position indexes", func(s Scanner) (int32, error) {
		var idx int32
		err := s.Scan(&idx)
		return idx, err
	})
}

func (t Tx) ExistingPoolIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	st, err := t.B.ExistingPoolIDs(ids)
	if err != nil {
		return nil, err
	}
	return collect(ctx, t.Q, st, "list existing pools", scanString)
}

// Reader implements store.Reader on top of a Querier.
type Reader struct {
	B Builder
	Q Querier
}

func (r Reader) GetPool(ctx context.Context, id string) (model.Pool, error) {
	st, err := r.B.GetPool(id)
	if err != nil {
		return model.Pool{}, err
	}
	pools, err := collect(ctx, r.Q, st, "get pool", ScanPool)
	if err != nil {
		return model.Pool{}, err
	}
	if len(pools) == 0 {
		return model.Pool{}, apperr.NotFoundf("get pool", "pool %s not found", id)
	}
	return pools[0], nil
}

func (r Reader) QueryPools(ctx context.Context, q store.PoolQuery) ([]model.Pool, error) {
	st, err := r.B.QueryPools(q)
	if err != nil {
		return nil, apperr.Validation("query pools", err)
	}
	return collect(ctx, r.Q, st, "query pools", ScanPool)
}

func (r Reader) PoolIDsByDex(ctx context.Context, dex string) ([]string, error) {
	st, err := r.B.PoolIDsByDex(dex)
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.Q, st, "list pools by dex", scanString)
}

func (r Reader) ListPositions(ctx context.Context, poolID string) ([]model.Position, error) {
	st, err := r.B.ListPositions(poolID)
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.Q, st, "list positions", ScanPosition)
}

func (r Reader) ListTokens(ctx context.Context, limit, offset uint64) ([]model.Token, error) {
	st, err := r.B.ListTokens(limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.Q, st, "list tokens", ScanToken)
}

func (r Reader) ListDexes(ctx context.Context) ([]string, error) {
	st, err := r.B.ListDexes()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.Q, st, "list dexes", scanString)
}

func scanString(s Scanner) (string, error) {
	var v string
	err := s.Scan(&v)
	return v, err
}

func collect[T any](ctx context.Context, q Querier, st Statement, op string, scan func(Scanner) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, apperr.Persistence(op, fmt.Errorf("scan: %w", err))
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return out, nil
}
