package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmirror/internal/apperr"
	"poolmirror/internal/events"
	"poolmirror/internal/metrics"
	"poolmirror/internal/model"
	"poolmirror/internal/source"
	"poolmirror/internal/storage"
	"poolmirror/internal/storage/sqlite"
	"poolmirror/internal/store"
)

const testDex = "tapp"

type fakeSource struct {
	mu        sync.Mutex
	positions map[string][]model.Position
	snapshot  model.PoolSnapshot
	tokens    []model.Token
	err       error
	calls     int
}

func (f *fakeSource) FetchPositions(_ context.Context, poolID string) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Position(nil), f.positions[poolID]...), nil
}

func (f *fakeSource) FetchPools(context.Context) (model.PoolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.PoolSnapshot{}, f.err
	}
	return f.snapshot, nil
}

func (f *fakeSource) FetchPool(_ context.Context, poolID string) (model.PoolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pool := range f.snapshot.Pools {
		if pool.ID == poolID {
			return model.PoolSnapshot{Pools: []model.Pool{pool}}, nil
		}
	}
	return model.PoolSnapshot{}, apperr.NotFoundf("fake pool", "pool %s", poolID)
}

func (f *fakeSource) FetchTokens(context.Context) ([]model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens, f.err
}

func (f *fakeSource) setPositions(poolID string, positions []model.Position) {
	f.mu.Lock()
	f.positions[poolID] = positions
	f.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type memArchive struct {
	mu      sync.Mutex
	records []storage.Record
}

func (a *memArchive) Put(_ context.Context, rec storage.Record) error {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
	return nil
}

type fixture struct {
	store     *sqlite.Store
	src       *fakeSource
	publisher *recordingPublisher
	archive   *memArchive
	metrics   *metrics.Metrics
	sources   *source.Registry
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	src := &fakeSource{positions: map[string][]model.Position{}}
	reg := source.NewRegistry()
	reg.Register(testDex, src)

	f := &fixture{
		store:     st,
		src:       src,
		publisher: &recordingPublisher{},
		archive:   &memArchive{},
		metrics:   m,
		sources:   reg,
	}
	f.rec = New(Deps{
		Store:     st,
		Sources:   reg,
		Publisher: f.publisher,
		Metrics:   m,
		Archive:   f.archive,
	}, nil)
	return f
}

func pool(id string) model.Pool {
	return model.Pool{
		ID:        id,
		TokenA:    model.StringPtr("0xa"),
		TokenB:    model.StringPtr("0xb"),
		Fee:       decimal.RequireFromString("0.003"),
		Dex:       testDex,
		TVL:       100,
		UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func position(poolID string, idx int32) model.Position {
	return model.Position{
		PoolID:    poolID,
		Index:     idx,
		TickLower: -60,
		TickUpper: 60,
		Liquidity: fmt.Sprintf("%d000000000000000000000", idx+1),
		UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) seedPool(t *testing.T, id string, indexes ...int32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithinScope(ctx, PoolsScope(testDex), func(tx store.Tx) error {
		return tx.UpsertPools(ctx, []model.Pool{pool(id)})
	}))
	if len(indexes) == 0 {
		return
	}
	positions := make([]model.Position, len(indexes))
	for i, idx := range indexes {
		positions[i] = position(id, idx)
	}
	require.NoError(t, f.store.WithinScope(ctx, PositionsScope(id), func(tx store.Tx) error {
		return tx.UpsertPositions(ctx, positions)
	}))
}

func (f *fixture) storedIndexes(t *testing.T, poolID string) []int32 {
	t.Helper()
	positions, err := f.store.ListPositions(context.Background(), poolID)
	require.NoError(t, err)
	out := make([]int32, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos.Index)
	}
	return out
}

func TestReconcilePoolPositionsMirrorsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPool(t, "p1", 0, 1, 2)

	f.src.setPositions("p1", []model.Position{position("p1", 1), position("p1", 3)})
	res, err := f.rec.ReconcilePoolPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 2, Added: 1, Removed: 2}, res)
	assert.Equal(t, []int32{1, 3}, f.storedIndexes(t, "p1"))

	stored, err := f.store.ListPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "4000000000000000000000", stored[1].Liquidity)

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, events.TypePositionsReconciled, ev.Type)
	assert.Equal(t, "positions:p1", ev.Scope)
	assert.Equal(t, "p1", ev.PoolID)
	assert.Equal(t, 2, ev.Removed)

	require.Len(t, f.archive.records, 1)
	assert.Len(t, f.archive.records[0].Positions, 2)
}

func TestReconcilePoolPositionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPool(t, "p1")
	f.src.setPositions("p1", []model.Position{position("p1", 0), position("p1", 1), position("p1", 2)})

	first, err := f.rec.ReconcilePoolPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 3, Added: 3}, first)
	before, err := f.store.ListPositions(ctx, "p1")
	require.NoError(t, err)

	second, err := f.rec.ReconcilePoolPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 3}, second)
	after, err := f.store.ListPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEmptySnapshotClearsPool(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "p1", 0, 1, 2)
	f.src.setPositions("p1", []model.Position{})

	res, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 0, Added: 0, Removed: 3}, res)
	assert.Empty(t, f.storedIndexes(t, "p1"))
}

func TestOtherPoolsAreUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "p1", 0, 1)
	f.seedPool(t, "p2", 0, 1, 2)
	f.src.setPositions("p1", nil)

	_, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, f.storedIndexes(t, "p1"))
	assert.Equal(t, []int32{0, 1, 2}, f.storedIndexes(t, "p2"))
}

func TestFetchFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "p1", 0, 1, 2)
	f.src.err = errors.New("connection refused")

	_, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, []int32{0, 1, 2}, f.storedIndexes(t, "p1"))
	assert.Empty(t, f.publisher.events)
}

func TestInvalidSnapshotWritesNothing(t *testing.T) {
	cases := map[string][]model.Position{
		"duplicate index": {position("p1", 4), position("p1", 4)},
		"inverted ticks": {
			position("p1", 4),
			{PoolID: "p1", Index: 5, TickLower: 10, TickUpper: -10, Liquidity: "1"},
		},
		"bad liquidity": {{PoolID: "p1", Index: 4, Liquidity: "1e18"}},
		"foreign pool":  {position("p2", 4)},
	}
	for name, snapshot := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.seedPool(t, "p1", 0, 1, 2)
			f.src.setPositions("p1", snapshot)

			_, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, []int32{0, 1, 2}, f.storedIndexes(t, "p1"))
			assert.Empty(t, f.archive.records)
		})
	}
}

// failingStore fails UpsertPositions after writing the first position.
type failingStore struct {
	store.Store
}

func (s failingStore) WithinScope(ctx context.Context, scope string, fn func(store.Tx) error) error {
	return s.Store.WithinScope(ctx, scope, func(tx store.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	store.Tx
}

func (tx failingTx) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) > 0 {
		if err := tx.Tx.UpsertPositions(ctx, positions[:1]); err != nil {
			return err
		}
	}
	return apperr.Persistence("upsert position", errors.New("disk full"))
}

func TestWriteFailureRollsBackPartialSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPool(t, "p1", 0, 1, 2)
	before, err := f.store.ListPositions(ctx, "p1")
	require.NoError(t, err)

	changed := position("p1", 0)
	changed.Liquidity = "42"
	f.src.setPositions("p1", []model.Position{changed, position("p1", 5)})

	rec := New(Deps{
		Store:     failingStore{Store: f.store},
		Sources:   f.sources,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Archive:   f.archive,
	}, nil)
	_, err = rec.ReconcilePoolPositions(ctx, "p1")
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	after, err := f.store.ListPositions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.publisher.events)
}

func TestUnknownPoolIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.ReconcilePoolPositions(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.src.calls)
}

func TestUnregisteredDexIsValidationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := pool("p9")
	other.Dex = "unknown"
	require.NoError(t, f.store.WithinScope(ctx, PoolsScope("unknown"), func(tx store.Tx) error {
		return tx.UpsertPools(ctx, []model.Pool{other})
	}))

	_, err := f.rec.ReconcilePoolPositions(ctx, "p9")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPublishFailureDoesNotFailReconcile(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "p1")
	f.publisher.err = errors.New("broker down")
	f.src.setPositions("p1", []model.Position{position("p1", 0)})

	res, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []int32{0}, f.storedIndexes(t, "p1"))
}

func TestConcurrentReconcilesLeaveOneSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "p1", 0)

	snapshots := [][]model.Position{
		{position("p1", 0), position("p1", 1)},
		{position("p1", 2), position("p1", 3), position("p1", 4)},
		{},
		{position("p1", 7)},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.src.setPositions("p1", snapshots[i%len(snapshots)])
			_, err := f.rec.ReconcilePoolPositions(context.Background(), "p1")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := f.storedIndexes(t, "p1")
	matches := false
	for _, snap := range snapshots {
		want := make([]int32, 0, len(snap))
		for _, pos := range snap {
			want = append(want, pos.Index)
		}
		if assert.ObjectsAreEqual(want, got) {
			matches = true
		}
	}
	assert.True(t, matches, "stored indexes %v match no snapshot", got)
}

func TestReconcilePools(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPool(t, "old", 0)

	f.src.snapshot = model.PoolSnapshot{
		Pools:  []model.Pool{pool("p1"), pool("p2")},
		Tokens: []model.Token{{ID: "0xa", Symbol: "APT", Decimals: 8}},
	}
	res, err := f.rec.ReconcilePools(ctx, testDex)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 2, Added: 2, Stale: 1}, res)

	_, err = f.store.GetPool(ctx, "old")
	require.NoError(t, err, "pools missing upstream are kept")
	assert.Equal(t, []int32{0}, f.storedIndexes(t, "old"))

	tokens, err := f.store.ListTokens(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	updated := pool("p1")
	updated.TVL = 900
	f.src.snapshot.Pools = []model.Pool{updated}
	res, err = f.rec.ReconcilePools(ctx, testDex)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Added: 0, Stale: 2}, res)

	got, err := f.store.GetPool(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 900, got.TVL, 1e-9)

	last := f.publisher.events[len(f.publisher.events)-1]
	assert.Equal(t, events.TypePoolsReconciled, last.Type)
	assert.Equal(t, 2, last.Stale)
}

func TestReconcilePoolsRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.src.snapshot = model.PoolSnapshot{Pools: []model.Pool{pool("p1"), pool("p1")}}

	_, err := f.rec.ReconcilePools(ctx, testDex)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.store.GetPool(ctx, "p1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReconcilePoolsRejectsForeignDex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	foreign := pool("p2")
	foreign.Dex = "other"
	f.src.snapshot = model.PoolSnapshot{Pools: []model.Pool{pool("p1"), foreign}}

	_, err := f.rec.ReconcilePools(ctx, testDex)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	for _, id := range []string{"p1", "p2"} {
		_, err = f.store.GetPool(ctx, id)
		assert.ErrorIs(t, err, apperr.ErrNotFound, id)
	}
	assert.Empty(t, f.publisher.events)
}

func TestReconcilePool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.src.snapshot = model.PoolSnapshot{Pools: []model.Pool{pool("p1"), pool("p2")}}

	res, err := f.rec.ReconcilePool(ctx, testDex, "p2")
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Added: 1}, res)

	_, err = f.store.GetPool(ctx, "p1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.rec.ReconcilePool(ctx, testDex, "p3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.rec.ReconcilePool(ctx, "nope", "p1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReconcileTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.src.tokens = []model.Token{
		{ID: "0xa", Symbol: "APT", Decimals: 8},
		{ID: "0xb", Symbol: "USDC", Decimals: 6},
	}

	res, err := f.rec.ReconcileTokens(ctx, testDex)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)

	f.src.tokens = f.src.tokens[:1]
	_, err = f.rec.ReconcileTokens(ctx, testDex)
	require.NoError(t, err)

	tokens, err := f.store.ListTokens(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tokens, 2, "tokens are never deleted")

	f.src.tokens = []model.Token{{ID: "0xc", Decimals: 400}}
	_, err = f.rec.ReconcileTokens(ctx, testDex)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
