package hyperion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/machinebox/graphql"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/numeric"
)

const (
	Dex = "hyperion"

	DefaultURL = "https://api.hyperion.xyz/v1/graphql"
)

const poolsQuery = `
query GetAllPools {
	pools {
		pool_id
		token_a
		token_b
		fee_tier
		tvl
		volume_24h
		apr
	}
}`

const poolByIDQuery = `
query GetPoolById($poolId: String!) {
	pool(where: { pool_id: { _eq: $poolId } }) {
		pool_id
		token_a
		token_b
		fee_tier
		tvl
		volume_24h
		apr
	}
}`

const positionsQuery = `
query GetPoolPositions($poolId: String!) {
	positions(where: { pool_id: { _eq: $poolId } }) {
		position_id
		pool_id
		owner
		liquidity
		tick_lower
		tick_upper
	}
}`

type poolResponse struct {
	PoolID    string   `json:"pool_id"`
	TokenA    string   `json:"token_a"`
	TokenB    string   `json:"token_b"`
	FeeTier   string   `json:"fee_tier"`
	TVL       *float64 `json:"tvl"`
	Volume24h *float64 `json:"volume_24h"`
	APR       *float64 `json:"apr"`
}

type positionResponse struct {
	PositionID string `json:"position_id"`
	PoolID     string `json:"pool_id"`
	Owner      string `json:"owner"`
	Liquidity  string `json:"liquidity"`
	TickLower  int64  `json:"tick_lower"`
	TickUpper  int64  `json:"tick_upper"`
}

type Config struct {
	URL               string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Source adapts the Hyperion GraphQL indexer.
type Source struct {
	client  *graphql.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
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
		client:  graphql.NewClient(cfg.URL, graphql.WithHTTPClient(httpClient)),
		limiter: limiter,
		logger:  logger.With(zap.String("source", Dex)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Source) run(ctx context.Context, op string, req *graphql.Request, resp any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return apperr.Upstream(op, err)
		}
	}
	if err := s.client.Run(ctx, req, resp); err != nil {
		return apperr.Upstream(op, err)
	}
	return nil
}

func (s *Source) FetchPools(ctx context.Context) (model.PoolSnapshot, error) {
	var resp struct {
		Pools []poolResponse `json:"pools"`
	}
	if err := s.run(ctx, "hyperion pools", graphql.NewRequest(poolsQuery), &resp); err != nil {
		return model.PoolSnapshot{}, err
	}
	return s.mapPools(resp.Pools)
}

func (s *Source) FetchPool(ctx context.Context, poolID string) (model.PoolSnapshot, error) {
	req := graphql.NewRequest(poolByIDQuery)
	req.Var("poolId", poolID)
	var resp struct {
		Pool []poolResponse `json:"pool"`
	}
	if err := s.run(ctx, "hyperion pool", req, &resp); err != nil {
		return model.PoolSnapshot{}, err
	}
	if len(resp.Pool) == 0 {
		return model.PoolSnapshot{}, apperr.NotFoundf("hyperion pool", "pool %s not listed upstream", poolID)
	}
	return s.mapPools(resp.Pool[:1])
}

func (s *Source) FetchPositions(ctx context.Context, poolID string) ([]model.Position, error) {
	req := graphql.NewRequest(positionsQuery)
	req.Var("poolId", poolID)
	var resp struct {
		Positions []positionResponse `json:"positions"`
	}
	if err := s.run(ctx, "hyperion positions", req, &resp); err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]model.Position, 0, len(resp.Positions))
	for _, raw := range resp.Positions {
		pos, err := mapPosition(poolID, raw, now)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *Source) mapPools(raw []poolResponse) (model.PoolSnapshot, error) {
	now := s.now()
	pools := make([]model.Pool, 0, len(raw))
	for _, item := range raw {
		pool, err := mapPool(item, now)
		if err != nil {
			return model.PoolSnapshot{}, err
		}
		pools = append(pools, pool)
	}
	return model.PoolSnapshot{Pools: pools}, nil
}

// mapPool maps the indexer's single APR figure to trading APR.
func mapPool(raw poolResponse, now time.Time) (model.Pool, error) {
	if raw.PoolID == "" {
		return model.Pool{}, apperr.Validationf("map hyperion pool", "missing pool_id")
	}
	fee, err := numeric.ParseFee(raw.FeeTier)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: %w", raw.PoolID, err)
	}
	pool := model.Pool{
		ID:         raw.PoolID,
		TokenA:     model.StringPtr(raw.TokenA),
		TokenB:     model.StringPtr(raw.TokenB),
		Fee:        fee,
		Dex:        Dex,
		TradingAPR: deref(raw.APR),
		TVL:        deref(raw.TVL),
		VolumeDay:  deref(raw.Volume24h),
		UpdatedAt:  now,
	}
	if err := pool.Validate(); err != nil {
		return model.Pool{}, err
	}
	return pool, nil
}

func mapPosition(poolID string, raw positionResponse, now time.Time) (model.Position, error) {
	if raw.PoolID != "" && raw.PoolID != poolID {
		return model.Position{}, apperr.Validationf("map hyperion position",
			"position %s belongs to pool %s, requested %s", raw.PositionID, raw.PoolID, poolID)
	}
	index, err := numeric.ParseIndex(raw.PositionID)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s: %w", poolID, err)
	}
	liquidity, err := numeric.ParseLiquidity(raw.Liquidity)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s position %d: %w", poolID, index, err)
	}
	pos := model.Position{
		PoolID:    poolID,
		Index:     index,
		TickLower: raw.TickLower,
		TickUpper: raw.TickUpper,
		Liquidity: liquidity,
		UpdatedAt: now,
	}
	if err := pos.Validate(); err != nil {
		return model.Position{}, err
	}
	return pos, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
