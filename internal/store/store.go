package store

import (
	"context"

	"poolmirror/internal/model"
)

// Store is transactional access to the mirror tables.
type Store interface {
	Reader

	// WithinScope runs fn in one transaction that holds an exclusive lock
	// keyed by scope. fn's writes commit only if it returns nil.
	WithinScope(ctx context.Context, scope string, fn func(Tx) error) error

	// Migrate creates the schema when missing.
	Migrate(ctx context.Context) error

	Close()
}

// Tx is the write side available inside WithinScope.
type Tx interface {
	UpsertTokens(ctx context.Context, tokens []model.Token) error
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertPositions(ctx context.Context, positions []model.Position) error

	// DeletePositionsNotIn removes the pool's positions whose index is not
	// in keep. An empty keep clears the pool.
	DeletePositionsNotIn(ctx context.Context, poolID string, keep []int32) (int64, error)

	PositionIndexes(ctx context.Context, poolID string) ([]int32, error)

	// ExistingPoolIDs returns the subset of ids already stored.
	ExistingPoolIDs(ctx context.Context, ids []string) ([]string, error)
}

// Reader is the read side used by the query engine and the API.
type Reader interface {
	GetPool(ctx context.Context, id string) (model.Pool, error)
	QueryPools(ctx context.Context, q PoolQuery) ([]model.Pool, error)
	PoolIDsByDex(ctx context.Context, dex string) ([]string, error)
	ListPositions(ctx context.Context, poolID string) ([]model.Position, error)
	ListTokens(ctx context.Context, limit, offset uint64) ([]model.Token, error)
	ListDexes(ctx context.Context) ([]string, error)
}

// StateStore keeps named job timestamps.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}
