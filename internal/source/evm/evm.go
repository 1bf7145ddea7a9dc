package evm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"poolmirror/internal/apperr"
	"poolmirror/internal/chain"
	"poolmirror/internal/dex"
	"poolmirror/internal/model"
	"poolmirror/internal/numeric"
)

const DefaultDex = "uniswapv3"

type Config struct {
	Dex               string
	Pools             []string
	RequestsPerSecond float64
}

// Source reads V3 pool and ERC20 metadata straight from chain state for a
// fixed list of pool addresses.
type Source struct {
	dex     string
	pools   []common.Address
	caller  chain.Caller
	limiter *rate.Limiter
	tokens  *dex.MetaCache[dex.TokenMeta]
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg Config, caller chain.Caller, logger *zap.Logger) (*Source, error) {
	if caller == nil {
		return nil, fmt.Errorf("evm source: chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dex == "" {
		cfg.Dex = DefaultDex
	}
	pools := make([]common.Address, 0, len(cfg.Pools))
	for _, raw := range cfg.Pools {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, err
		}
		pools = append(pools, addr)
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Source{
		dex:     cfg.Dex,
		pools:   pools,
		caller:  caller,
		limiter: limiter,
		tokens:  dex.NewMetaCache[dex.TokenMeta](),
		logger:  logger.With(zap.String("source", cfg.Dex)),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Source) Dex() string { return s.dex }

func (s *Source) FetchPools(ctx context.Context) (model.PoolSnapshot, error) {
	return s.snapshot(ctx, s.pools)
}

func (s *Source) FetchPool(ctx context.Context, poolID string) (model.PoolSnapshot, error) {
	addr, err := parseAddress(poolID)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	for _, configured := range s.pools {
		if configured == addr {
			return s.snapshot(ctx, []common.Address{addr})
		}
	}
	return model.PoolSnapshot{}, apperr.NotFoundf("evm pool", "pool %s is not configured for %s", poolID, s.dex)
}

// FetchTokens returns metadata for every token referenced by the
// configured pools.
func (s *Source) FetchTokens(ctx context.Context) ([]model.Token, error) {
	snap, err := s.snapshot(ctx, s.pools)
	if err != nil {
		return nil, err
	}
	return snap.Tokens, nil
}

func (s *Source) snapshot(ctx context.Context, addrs []common.Address) (model.PoolSnapshot, error) {
	now := s.now()
	snap := model.PoolSnapshot{Pools: make([]model.Pool, 0, len(addrs))}
	seen := make(map[common.Address]struct{})

	for _, addr := range addrs {
		if err := s.wait(ctx); err != nil {
			return model.PoolSnapshot{}, err
		}
		meta, err := dex.FetchPoolMeta(ctx, s.caller, addr)
		if err != nil {
			return model.PoolSnapshot{}, apperr.Upstream("evm pool meta", fmt.Errorf("pool %s: %w", addr.Hex(), err))
		}
		pool := mapPool(s.dex, addr, meta, now)
		if err := pool.Validate(); err != nil {
			return model.PoolSnapshot{}, err
		}
		snap.Pools = append(snap.Pools, pool)

		for _, token := range []common.Address{meta.Token0, meta.Token1} {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			tm, err := s.tokenMeta(ctx, token)
			if err != nil {
				return model.PoolSnapshot{}, err
			}
			tok := mapToken(tm, now)
			if err := tok.Validate(); err != nil {
				return model.PoolSnapshot{}, err
			}
			snap.Tokens = append(snap.Tokens, tok)
		}
	}
	return snap, nil
}

func (s *Source) tokenMeta(ctx context.Context, token common.Address) (dex.TokenMeta, error) {
	if meta, ok := s.tokens.Get(token); ok {
		return meta, nil
	}
	if err := s.wait(ctx); err != nil {
		return dex.TokenMeta{}, err
	}
	meta, err := dex.FetchTokenMeta(ctx, s.caller, token, s.logger)
	if err != nil {
		return dex.TokenMeta{}, apperr.Upstream("evm token meta", fmt.Errorf("token %s: %w", token.Hex(), err))
	}
	s.tokens.Set(token, meta)
	return meta, nil
}

func (s *Source) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return apperr.Upstream("evm rate limit", err)
	}
	return nil
}

func mapPool(dexTag string, addr common.Address, meta dex.PoolMeta, now time.Time) model.Pool {
	return model.Pool{
		ID:        addressID(addr),
		TokenA:    model.StringPtr(addressID(meta.Token0)),
		TokenB:    model.StringPtr(addressID(meta.Token1)),
		Fee:       numeric.FeeFromHundredthsBip(meta.Fee),
		Dex:       dexTag,
		UpdatedAt: now,
	}
}

func mapToken(meta dex.TokenMeta, now time.Time) model.Token {
	return model.Token{
		ID:        addressID(meta.Address),
		Symbol:    meta.Symbol,
		Name:      model.StringPtr(meta.Name),
		Decimals:  int32(meta.Decimals),
		UpdatedAt: now,
	}
}

func addressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperr.Validationf("parse pool address", "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
