package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolmirror/internal/reconcile"
	"poolmirror/internal/source"
)

// Reconciler is the subset of reconcile.Reconciler a round drives.
type Reconciler interface {
	ReconcileTokens(ctx context.Context, src string) (reconcile.Result, error)
	ReconcilePools(ctx context.Context, src string) (reconcile.Result, error)
	ReconcilePoolPositions(ctx context.Context, poolID string) (reconcile.Result, error)
}

// PoolLister lists the stored pools of one dex.
type PoolLister interface {
	PoolIDsByDex(ctx context.Context, dex string) ([]string, error)
}

// Config holds scheduler settings.
type Config struct {
	Sources      []string
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// Concurrency bounds the position refreshes in flight per source.
	Concurrency int
}

// RoundResult summarizes one refresh round of a source.
type RoundResult struct {
	Tokens          int
	Pools           int
	Positions       int
	FailedPositions int
}

// Scheduler refreshes tokens, pools and positions of each configured
// source on a fixed interval.
type Scheduler struct {
	cfg      Config
	rec      Reconciler
	pools    PoolLister
	registry *source.Registry
	state    StateStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduler(cfg Config, rec Reconciler, pools PoolLister, registry *source.Registry, state StateStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		cfg:      cfg,
		rec:      rec,
		pools:    pools,
		registry: registry,
		state:    state,
		logger:   logger.With(zap.String("component", "scheduler")),
		now:      time.Now,
	}
}

// Run starts one loop per source and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.rec == nil {
		return fmt.Errorf("reconciler is nil")
	}
	if len(s.cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	var wg sync.WaitGroup
	for _, src := range s.cfg.Sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			s.loop(ctx, src)
		}(src)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, src string) {
	logger := s.logger.With(zap.String("source", src))

	wait := s.initialDelay(ctx, src)
	if wait > 0 {
		logger.Info("delay first round", zap.Duration("wait", wait))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := s.now()
		res, err := s.RunOnce(ctx, src)
		if err != nil {
			logger.Error("refresh round failed", zap.Error(err))
		} else {
			logger.Info("refresh round complete",
				zap.Int("tokens", res.Tokens),
				zap.Int("pools", res.Pools),
				zap.Int("positions", res.Positions),
				zap.Int("failed_positions", res.FailedPositions),
				zap.Duration("took", s.now().Sub(started)),
			)
		}
		timer.Reset(s.cfg.Interval)
	}
}

// initialDelay holds the first round back until Interval has passed since
// the last saved round.
func (s *Scheduler) initialDelay(ctx context.Context, src string) time.Duration {
	if s.state == nil {
		return 0
	}
	last, ok, err := s.state.Load(ctx, stateName(src))
	if err != nil {
		s.logger.Warn("load scheduler state", zap.String("source", src), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	next := time.Unix(int64(last), 0).Add(s.cfg.Interval)
	if wait := next.Sub(s.now()); wait > 0 {
		return wait
	}
	return 0
}

// RunOnce performs a single round for src: tokens when the source lists
// them, then pools, then positions of every stored pool of that dex.
func (s *Scheduler) RunOnce(ctx context.Context, src string) (RoundResult, error) {
	var round RoundResult
	logger := s.logger.With(zap.String("source", src))

	if s.supportsTokens(src) {
		err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			res, err := s.rec.ReconcileTokens(ctx, src)
			if err != nil {
				logger.Warn("token refresh failed", zap.Error(err))
				return err
			}
			round.Tokens = res.Updated
			return nil
		})
		if err != nil {
			return round, fmt.Errorf("refresh tokens: %w", err)
		}
	}

	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		res, err := s.rec.ReconcilePools(ctx, src)
		if err != nil {
			logger.Warn("pool refresh failed", zap.Error(err))
			return err
		}
		round.Pools = res.Updated
		return nil
	})
	if err != nil {
		return round, fmt.Errorf("refresh pools: %w", err)
	}

	if s.supportsPositions(src) && s.pools != nil {
		ids, err := s.pools.PoolIDsByDex(ctx, src)
		if err != nil {
			return round, fmt.Errorf("list pools: %w", err)
		}
		updated, failed, err := s.refreshPositions(ctx, ids, logger)
		round.Positions = updated
		round.FailedPositions = failed
		if err != nil {
			return round, err
		}
	}

	if s.state != nil {
		if err := s.state.Save(ctx, stateName(src), uint64(s.now().Unix())); err != nil {
			logger.Warn("save scheduler state", zap.Error(err))
		}
	}
	return round, nil
}

func (s *Scheduler) refreshPositions(ctx context.Context, ids []string, logger *zap.Logger) (int, int, error) {
	batches, err := SplitBatches(len(ids), s.cfg.Concurrency)
	if err != nil {
		return 0, 0, err
	}

	var (
		mu      sync.Mutex
		updated int
		failed  int
	)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return updated, failed, err
		}
		var wg sync.WaitGroup
		for _, id := range ids[batch.From:batch.To] {
			wg.Add(1)
			go func(poolID string) {
				defer wg.Done()
				var res reconcile.Result
				err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
					var err error
					res, err = s.rec.ReconcilePoolPositions(ctx, poolID)
					return err
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					logger.Warn("position refresh failed", zap.String("pool", poolID), zap.Error(err))
					return
				}
				updated += res.Updated
			}(id)
		}
		wg.Wait()
	}
	return updated, failed, nil
}

func (s *Scheduler) supportsTokens(src string) bool {
	if s.registry == nil {
		return false
	}
	_, err := s.registry.Tokens(src)
	return err == nil
}

func (s *Scheduler) supportsPositions(src string) bool {
	if s.registry == nil {
		return false
	}
	_, err := s.registry.Positions(src)
	return err == nil
}

func stateName(src string) string {
	return "refresh:" + src
}
