package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"poolmirror/internal/apperr"
	"poolmirror/internal/events"
	"poolmirror/internal/lock"
	"poolmirror/internal/metrics"
	"poolmirror/internal/model"
	"poolmirror/internal/source"
	"poolmirror/internal/storage"
	"poolmirror/internal/store"
)

const (
	KindPositions = "positions"
	KindPools     = "pools"
	KindPool      = "pool"
	KindTokens    = "tokens"
)

// Result counts the rows a reconciliation touched. Updated is the
// snapshot size; Added and Removed come from the key diff against the
// rows stored before the write.
type Result struct {
	Updated int `json:"updated"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Stale   int `json:"stale,omitempty"`
}

// Deps are the collaborators of a Reconciler. Store and Sources are
// required; the rest default to in-process no-op or local versions.
type Deps struct {
	Store     store.Store
	Sources   *source.Registry
	Locker    lock.Locker
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Archive   storage.Archive
}

// Reconciler makes the stored mirror match upstream snapshots.
type Reconciler struct {
	store     store.Store
	sources   *source.Registry
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	archive   storage.Archive
	logger    *zap.Logger
	now       func() time.Time
}

func New(deps Deps, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Reconciler{
		store:     deps.Store,
		sources:   deps.Sources,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		archive:   deps.Archive,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func PositionsScope(poolID string) string { return "positions:" + poolID }
func PoolsScope(src string) string        { return "pools:" + src }
func TokensScope(src string) string       { return "tokens:" + src }

// ReconcilePoolPositions replaces the stored position set of poolID with
// the one its source currently reports. Nothing is written unless the
// whole snapshot is fetched and valid.
func (r *Reconciler) ReconcilePoolPositions(ctx context.Context, poolID string) (res Result, err error) {
	started := time.Now()
	defer func() { r.metrics.ObserveReconcile(KindPositions, started, err, res.Updated, res.Removed) }()

	pool, err := r.store.GetPool(ctx, poolID)
	if err != nil {
		return Result{}, fmt.Errorf("load pool: %w", err)
	}
	src, err := r.sources.Positions(pool.Dex)
	if err != nil {
		return Result{}, err
	}

	positions, err := src.FetchPositions(ctx, poolID)
	if err != nil {
		return Result{}, upstream("fetch positions", poolID, err)
	}
	if err := validatePositions(poolID, positions); err != nil {
		return Result{}, err
	}
	r.archiveSnapshot(ctx, storage.Record{Scope: PositionsScope(poolID), Source: pool.Dex, Positions: positions})

	scope := PositionsScope(poolID)
	keep := make([]int32, len(positions))
	for i, pos := range positions {
		keep[i] = pos.Index
	}

	err = r.withScope(ctx, scope, func(tx store.Tx) error {
		before, err := tx.PositionIndexes(ctx, poolID)
		if err != nil {
			return err
		}
		if err := tx.UpsertPositions(ctx, positions); err != nil {
			return err
		}
		if _, err := tx.DeletePositionsNotIn(ctx, poolID, keep); err != nil {
			return err
		}
		res = diffIndexes(before, keep)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("positions reconciled",
		zap.String("pool", poolID),
		zap.String("dex", pool.Dex),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
	)
	ev := events.New(events.TypePositionsReconciled, scope, r.now())
	ev.Source = pool.Dex
	ev.PoolID = poolID
	r.publish(ctx, ev, res)
	return res, nil
}

// ReconcilePools upserts every pool, and the tokens embedded with them,
// from one source's listing. Stored pools missing from the listing are
// kept and only counted as stale.
func (r *Reconciler) ReconcilePools(ctx context.Context, srcName string) (res Result, err error) {
	started := time.Now()
	defer func() { r.metrics.ObserveReconcile(KindPools, started, err, res.Updated, 0) }()

	src, err := r.sources.Pools(srcName)
	if err != nil {
		return Result{}, err
	}
	snap, err := src.FetchPools(ctx)
	if err != nil {
		return Result{}, upstream("fetch pools", srcName, err)
	}
	res, err = r.applyPools(ctx, srcName, snap)
	if err != nil {
		return Result{}, err
	}

	stale, err := r.staleCount(ctx, srcName, snap.Pools)
	if err != nil {
		r.logger.Warn("count stale pools", zap.String("source", srcName), zap.Error(err))
	}
	res.Stale = stale

	r.logger.Info("pools reconciled",
		zap.String("source", srcName),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("tokens", len(snap.Tokens)),
		zap.Int("stale", res.Stale),
	)
	ev := events.New(events.TypePoolsReconciled, PoolsScope(srcName), r.now())
	ev.Source = srcName
	r.publish(ctx, ev, res)
	return res, nil
}

// ReconcilePool refreshes a single pool from its source.
func (r *Reconciler) ReconcilePool(ctx context.Context, srcName, poolID string) (res Result, err error) {
	started := time.Now()
	defer func() { r.metrics.ObserveReconcile(KindPool, started, err, res.Updated, 0) }()

	src, err := r.sources.Pool(srcName)
	if err != nil {
		return Result{}, err
	}
	snap, err := src.FetchPool(ctx, poolID)
	if err != nil {
		return Result{}, upstream("fetch pool", poolID, err)
	}
	if len(snap.Pools) != 1 || snap.Pools[0].ID != poolID {
		return Result{}, apperr.Validationf("fetch pool", "source %s returned %d pools for %s", srcName, len(snap.Pools), poolID)
	}
	res, err = r.applyPools(ctx, srcName, snap)
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("pool reconciled",
		zap.String("source", srcName),
		zap.String("pool", poolID),
		zap.Int("added", res.Added),
	)
	ev := events.New(events.TypePoolsReconciled, PoolsScope(srcName), r.now())
	ev.Source = srcName
	ev.PoolID = poolID
	r.publish(ctx, ev, res)
	return res, nil
}

// ReconcileTokens upserts a source's token list. Tokens are never deleted.
func (r *Reconciler) ReconcileTokens(ctx context.Context, srcName string) (res Result, err error) {
	started := time.Now()
	defer func() { r.metrics.ObserveReconcile(KindTokens, started, err, res.Updated, 0) }()

	src, err := r.sources.Tokens(srcName)
	if err != nil {
		return Result{}, err
	}
	tokens, err := src.FetchTokens(ctx)
	if err != nil {
		return Result{}, upstream("fetch tokens", srcName, err)
	}
	if err := validateTokens(tokens); err != nil {
		return Result{}, err
	}
	r.archiveSnapshot(ctx, storage.Record{Scope: TokensScope(srcName), Source: srcName, Tokens: tokens})

	err = r.withScope(ctx, TokensScope(srcName), func(tx store.Tx) error {
		return tx.UpsertTokens(ctx, tokens)
	})
	if err != nil {
		return Result{}, err
	}
	res = Result{Updated: len(tokens)}

	r.logger.Info("tokens reconciled", zap.String("source", srcName), zap.Int("updated", res.Updated))
	ev := events.New(events.TypeTokensReconciled, TokensScope(srcName), r.now())
	ev.Source = srcName
	r.publish(ctx, ev, res)
	return res, nil
}

func (r *Reconciler) applyPools(ctx context.Context, srcName string, snap model.PoolSnapshot) (Result, error) {
	if err := validatePools(srcName, snap.Pools); err != nil {
		return Result{}, err
	}
	if err := validateTokens(snap.Tokens); err != nil {
		return Result{}, err
	}
	r.archiveSnapshot(ctx, storage.Record{Scope: PoolsScope(srcName), Source: srcName, Pools: snap.Pools, Tokens: snap.Tokens})

	ids := make([]string, len(snap.Pools))
	for i, pool := range snap.Pools {
		ids[i] = pool.ID
	}

	var res Result
	err := r.withScope(ctx, PoolsScope(srcName), func(tx store.Tx) error {
		existing, err := tx.ExistingPoolIDs(ctx, ids)
		if err != nil {
			return err
		}
		if err := tx.UpsertTokens(ctx, snap.Tokens); err != nil {
			return err
		}
		if err := tx.UpsertPools(ctx, snap.Pools); err != nil {
			return err
		}
		res = Result{Updated: len(ids), Added: len(ids) - len(existing)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Reconciler) staleCount(ctx context.Context, dex string, pools []model.Pool) (int, error) {
	stored, err := r.store.PoolIDsByDex(ctx, dex)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(pools))
	for _, pool := range pools {
		seen[pool.ID] = struct{}{}
	}
	stale := 0
	for _, id := range stored {
		if _, ok := seen[id]; !ok {
			stale++
		}
	}
	return stale, nil
}

// withScope serializes writers of scope in this process (or cluster, with
// a distributed locker) before entering the store's scoped transaction.
func (r *Reconciler) withScope(ctx context.Context, scope string, fn func(store.Tx) error) error {
	unlock, err := r.locker.Lock(ctx, scope)
	if err != nil {
		return apperr.Persistence("acquire scope lock", fmt.Errorf("%s: %w", scope, err))
	}
	defer unlock()
	return r.store.WithinScope(ctx, scope, fn)
}

func (r *Reconciler) archiveSnapshot(ctx context.Context, rec storage.Record) {
	if r.archive == nil {
		return
	}
	rec.FetchedAt = r.now()
	if err := r.archive.Put(ctx, rec); err != nil {
		r.logger.Warn("archive snapshot", zap.String("scope", rec.Scope), zap.Error(err))
	}
}

func (r *Reconciler) publish(ctx context.Context, ev events.Event, res Result) {
	ev.Updated = res.Updated
	ev.Added = res.Added
	ev.Removed = res.Removed
	ev.Stale = res.Stale
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish event",
			zap.String("type", ev.Type),
			zap.String("scope", ev.Scope),
			zap.Error(err),
		)
	}
}

func upstream(op, subject string, err error) error {
	if apperr.IsClassified(err) {
		return fmt.Errorf("%s %s: %w", op, subject, err)
	}
	return apperr.Upstream(op, fmt.Errorf("%s: %w", subject, err))
}

func diffIndexes(before, after []int32) Result {
	prev := make(map[int32]struct{}, len(before))
	for _, idx := range before {
		prev[idx] = struct{}{}
	}
	next := make(map[int32]struct{}, len(after))
	res := Result{Updated: len(after)}
	for _, idx := range after {
		next[idx] = struct{}{}
		if _, ok := prev[idx]; !ok {
			res.Added++
		}
	}
	for _, idx := range before {
		if _, ok := next[idx]; !ok {
			res.Removed++
		}
	}
	return res
}
