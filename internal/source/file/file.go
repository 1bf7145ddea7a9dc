package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/numeric"
	"poolmirror/internal/storage"
)

const (
	DefaultDex = "file"

	PoolsFile     = "pools.jsonl"
	TokensFile    = "tokens.jsonl"
	PositionsFile = "positions.jsonl"
)

type poolRecord struct {
	ID            string  `json:"id"`
	Dex           string  `json:"dex"`
	TokenA        string  `json:"token_a"`
	TokenB        string  `json:"token_b"`
	Fee           string  `json:"fee"`
	TradingAPR    float64 `json:"trading_apr"`
	BonusAPR      float64 `json:"bonus_apr"`
	TVL           float64 `json:"tvl"`
	VolumeDay     float64 `json:"volume_day"`
	VolumeWeek    float64 `json:"volume_week"`
	VolumeMonth   float64 `json:"volume_month"`
	VolumePrevDay float64 `json:"volume_prev_day"`
}

type tokenRecord struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Logo     string `json:"logo"`
	Decimals int32  `json:"decimals"`
}

// positionRecord carries ticks as the unsigned decimal form of their
// two's-complement bits, the way on-chain views return them.
type positionRecord struct {
	PoolID    string `json:"pool_id"`
	Index     int32  `json:"index"`
	TickLower string `json:"tick_lower_bits"`
	TickUpper string `json:"tick_upper_bits"`
	Liquidity string `json:"liquidity"`
}

type Config struct {
	Dir string
	Dex string
}

// Source serves snapshots from JSONL files in a directory. Files are
// re-read on every fetch.
type Source struct {
	dir    string
	dex    string
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dex == "" {
		cfg.Dex = DefaultDex
	}
	return &Source{
		dir:    cfg.Dir,
		dex:    cfg.Dex,
		logger: logger.With(zap.String("source", cfg.Dex)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Source) FetchPools(ctx context.Context) (model.PoolSnapshot, error) {
	pools, err := s.readPools(ctx, "")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	return model.PoolSnapshot{Pools: pools}, nil
}

func (s *Source) FetchPool(ctx context.Context, poolID string) (model.PoolSnapshot, error) {
	pools, err := s.readPools(ctx, poolID)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	if len(pools) == 0 {
		return model.PoolSnapshot{}, apperr.NotFoundf("file pool", "pool %s not in %s", poolID, PoolsFile)
	}
	return model.PoolSnapshot{Pools: pools[:1]}, nil
}

func (s *Source) FetchTokens(ctx context.Context) ([]model.Token, error) {
	now := s.now()
	var tokens []model.Token
	err := s.read(ctx, TokensFile, func(lineNo int, line []byte) error {
		var raw tokenRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			return lineError(TokensFile, lineNo, err)
		}
		tok := model.Token{
			ID:        raw.ID,
			Symbol:    raw.Symbol,
			Name:      model.StringPtr(raw.Name),
			Logo:      model.StringPtr(raw.Logo),
			Decimals:  raw.Decimals,
			UpdatedAt: now,
		}
		if err := tok.Validate(); err != nil {
			return fmt.Errorf("%s:%d: %w", TokensFile, lineNo, err)
		}
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Source) FetchPositions(ctx context.Context, poolID string) ([]model.Position, error) {
	now := s.now()
	positions := []model.Position{}
	err := s.read(ctx, PositionsFile, func(lineNo int, line []byte) error {
		var raw positionRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			return lineError(PositionsFile, lineNo, err)
		}
		if raw.PoolID != poolID {
			return nil
		}
		pos, err := mapPosition(raw, now)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", PositionsFile, lineNo, err)
		}
		positions = append(positions, pos)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *Source) readPools(ctx context.Context, only string) ([]model.Pool, error) {
	now := s.now()
	var pools []model.Pool
	err := s.read(ctx, PoolsFile, func(lineNo int, line []byte) error {
		var raw poolRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			return lineError(PoolsFile, lineNo, err)
		}
		if only != "" && raw.ID != only {
			return nil
		}
		pool, err := s.mapPool(raw, now)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", PoolsFile, lineNo, err)
		}
		pools = append(pools, pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (s *Source) read(ctx context.Context, name string, fn func(int, []byte) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Upstream("read "+name, err)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return apperr.Upstream("read "+name, err)
	}
	defer f.Close()

	if err := storage.ReadJSONL(f, fn); err != nil {
		if apperr.IsClassified(err) {
			return err
		}
		return apperr.Upstream("read "+name, err)
	}
	s.logger.Debug("snapshot file read", zap.String("path", path))
	return nil
}

func (s *Source) mapPool(raw poolRecord, now time.Time) (model.Pool, error) {
	fee, err := numeric.ParseFee(raw.Fee)
	if err != nil {
		return model.Pool{}, err
	}
	if raw.Dex != "" && raw.Dex != s.dex {
		return model.Pool{}, apperr.Validationf("map file pool", "pool %s: dex %q, source serves %q", raw.ID, raw.Dex, s.dex)
	}
	pool := model.Pool{
		ID:            raw.ID,
		TokenA:        model.StringPtr(raw.TokenA),
		TokenB:        model.StringPtr(raw.TokenB),
		Fee:           fee,
		Dex:           s.dex,
		TradingAPR:    raw.TradingAPR,
		BonusAPR:      raw.BonusAPR,
		TVL:           raw.TVL,
		VolumeDay:     raw.VolumeDay,
		VolumeWeek:    raw.VolumeWeek,
		VolumeMonth:   raw.VolumeMonth,
		VolumePrevDay: raw.VolumePrevDay,
		UpdatedAt:     now,
	}
	if err := pool.Validate(); err != nil {
		return model.Pool{}, err
	}
	return pool, nil
}

func mapPosition(raw positionRecord, now time.Time) (model.Position, error) {
	lower, err := numeric.ParseTickBits(raw.TickLower)
	if err != nil {
		return model.Position{}, err
	}
	upper, err := numeric.ParseTickBits(raw.TickUpper)
	if err != nil {
		return model.Position{}, err
	}
	liquidity, err := numeric.ParseLiquidity(raw.Liquidity)
	if err != nil {
		return model.Position{}, err
	}
	pos := model.Position{
		PoolID:    raw.PoolID,
		Index:     raw.Index,
		TickLower: lower,
		TickUpper: upper,
		Liquidity: liquidity,
		UpdatedAt: now,
	}
	if err := pos.Validate(); err != nil {
		return model.Position{}, err
	}
	return pos, nil
}

func lineError(name string, lineNo int, err error) error {
	return apperr.Validation("decode "+name, fmt.Errorf("line %d: %w", lineNo, err))
}
