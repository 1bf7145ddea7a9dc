package tapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
)

const (
	Dex = "tapp"

	DefaultAPIURL      = "https://api.tapp.exchange/v1"
	DefaultNodeURL     = "https://api.mainnet.aptoslabs.com/v1"
	DefaultViewAddress = "0xf5840b576a3a6a42464814bc32ae1160c50456fb885c62be389b817e75b2a385"

	maxResponseBytes = 32 << 20
)

type Config struct {
	APIURL      string
	NodeURL     string
	ViewAddress string
	PageSize    int
	MaxPages    int
	// RequestsPerSecond paces calls to both endpoints; zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Source adapts the TAPP exchange API and its on-chain views.
type Source struct {
	rpc         *rpcClient
	view        *viewClient
	viewAddress string
	pageSize    int
	maxPages    int
	logger      *zap.Logger
	now         func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.NodeURL == "" {
		cfg.NodeURL = DefaultNodeURL
	}
	if cfg.ViewAddress == "" {
		cfg.ViewAddress = DefaultViewAddress
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Source{
		rpc:         &rpcClient{url: cfg.APIURL, http: httpClient, limiter: limiter},
		view:        &viewClient{nodeURL: cfg.NodeURL, http: httpClient, limiter: limiter},
		viewAddress: cfg.ViewAddress,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
		logger:      logger.With(zap.String("source", Dex)),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FetchTokens pages through public/token.
func (s *Source) FetchTokens(ctx context.Context) ([]model.Token, error) {
	now := s.now()
	var (
		tokens []model.Token
		seen   = make(map[string]int)
	)
	err := s.pages(ctx, "public/token", "", func(raw json.RawMessage) (int, error) {
		var page []apiToken
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, apperr.Upstream("tapp public/token", fmt.Errorf("decode page: %w", err))
		}
		for _, item := range page {
			token, err := mapToken(item, now)
			if err != nil {
				return 0, err
			}
			if i, ok := seen[token.ID]; ok {
				tokens[i] = token
				continue
			}
			seen[token.ID] = len(tokens)
			tokens = append(tokens, token)
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// FetchPools pages through public/pool for CLMM pools.
func (s *Source) FetchPools(ctx context.Context) (model.PoolSnapshot, error) {
	now := s.now()
	var (
		pools []model.Pool
		seen  = make(map[string]int)
	)
	err := s.pages(ctx, "public/pool", "CLMM", func(raw json.RawMessage) (int, error) {
		var page []apiPool
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, apperr.Upstream("tapp public/pool", fmt.Errorf("decode page: %w", err))
		}
		for _, item := range page {
			pool, err := mapPool(item, now)
			if err != nil {
				return 0, err
			}
			if i, ok := seen[pool.ID]; ok {
				pools[i] = pool
				continue
			}
			seen[pool.ID] = len(pools)
			pools = append(pools, pool)
		}
		return len(page), nil
	})
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	return model.PoolSnapshot{Pools: pools}, nil
}

// FetchPool finds one pool in the listing; the API has no lookup by id.
func (s *Source) FetchPool(ctx context.Context, poolID string) (model.PoolSnapshot, error) {
	snap, err := s.FetchPools(ctx)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	for _, p := range snap.Pools {
		if p.ID == poolID {
			return model.PoolSnapshot{Pools: []model.Pool{p}}, nil
		}
	}
	return model.PoolSnapshot{}, apperr.NotFoundf("tapp fetch pool", "pool %s not listed upstream", poolID)
}

// FetchPositions reads clmm_views::get_positions for the pool.
func (s *Source) FetchPositions(ctx context.Context, poolID string) ([]model.Position, error) {
	function := s.viewAddress + "::clmm_views::get_positions"
	values, err := s.view.view(ctx, function, poolID)
	if err != nil {
		return nil, apperr.Upstream("tapp get_positions", err)
	}
	if len(values) == 0 {
		return nil, apperr.Upstream("tapp get_positions", fmt.Errorf("empty view result"))
	}

	var raw []chainPosition
	if err := json.Unmarshal(values[0], &raw); err != nil {
		return nil, apperr.Upstream("tapp get_positions", fmt.Errorf("decode positions: %w", err))
	}

	now := s.now()
	positions := make([]model.Position, 0, len(raw))
	for _, item := range raw {
		pos, err := mapPosition(poolID, item, now)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	s.logger.Debug("positions fetched", zap.String("pool", poolID), zap.Int("count", len(positions)))
	return positions, nil
}

// pages calls method page by page until a short page. Running into the
// page cap is an upstream failure, since the listing would be truncated.
func (s *Source) pages(ctx context.Context, method, poolType string, handle func(json.RawMessage) (int, error)) error {
	for page := 1; page <= s.maxPages; page++ {
		var raw json.RawMessage
		query := pageQuery{PoolType: poolType, Page: page, PageSize: s.pageSize}
		if err := s.rpc.call(ctx, method, query, &raw); err != nil {
			return apperr.Upstream("tapp "+method, err)
		}
		n, err := handle(raw)
		if err != nil {
			return err
		}
		if n < s.pageSize {
			return nil
		}
	}
	s.logger.Warn("page cap reached", zap.String("method", method), zap.Int("max_pages", s.maxPages))
	return apperr.Upstream("tapp "+method, fmt.Errorf("listing exceeds %d pages of %d", s.maxPages, s.pageSize))
}
