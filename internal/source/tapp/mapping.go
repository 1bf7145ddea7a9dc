package tapp

import (
	"fmt"
	"strings"
	"time"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/numeric"
)

func mapToken(raw apiToken, now time.Time) (model.Token, error) {
	token := model.Token{
		ID:        strings.TrimSpace(raw.Addr),
		Symbol:    raw.Ticker,
		Name:      model.StringPtr(raw.Name),
		Logo:      model.StringPtr(raw.Img),
		Decimals:  raw.Decimals,
		UpdatedAt: now,
	}
	if err := token.Validate(); err != nil {
		return model.Token{}, err
	}
	return token, nil
}

func mapPool(raw apiPool, now time.Time) (model.Pool, error) {
	if raw.PoolID == "" {
		return model.Pool{}, apperr.Validationf("map tapp pool", "missing poolId")
	}
	fee, err := numeric.ParseFee(raw.FeeTier)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: %w", raw.PoolID, err)
	}
	tvl, err := numeric.ParseFloat("tvl", raw.TVL)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: %w", raw.PoolID, err)
	}

	pool := model.Pool{
		ID:            raw.PoolID,
		Fee:           fee,
		Dex:           Dex,
		TradingAPR:    raw.APR.FeeAPRPercentage,
		BonusAPR:      raw.APR.BoostedAPRPercentage,
		TVL:           tvl,
		VolumeDay:     raw.VolumeData.Volume24h,
		VolumeWeek:    raw.VolumeData.Volume7d,
		VolumeMonth:   raw.VolumeData.Volume30d,
		VolumePrevDay: raw.VolumeData.VolumePrev24h,
		UpdatedAt:     now,
	}
	if len(raw.Tokens) > 0 {
		pool.TokenA = model.StringPtr(raw.Tokens[0].Addr)
	}
	if len(raw.Tokens) > 1 {
		pool.TokenB = model.StringPtr(raw.Tokens[1].Addr)
	}
	if err := pool.Validate(); err != nil {
		return model.Pool{}, err
	}
	return pool, nil
}

func mapPosition(poolID string, raw chainPosition, now time.Time) (model.Position, error) {
	index, err := numeric.ParseIndex(raw.Index)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s: %w", poolID, err)
	}
	lower, err := numeric.ParseTickBits(raw.TickLowerIndex.Bits)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s position %d tick lower: %w", poolID, index, err)
	}
	upper, err := numeric.ParseTickBits(raw.TickUpperIndex.Bits)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s position %d tick upper: %w", poolID, index, err)
	}
	liquidity, err := numeric.ParseLiquidity(raw.Liquidity)
	if err != nil {
		return model.Position{}, fmt.Errorf("pool %s position %d: %w", poolID, index, err)
	}

	pos := model.Position{
		PoolID:    poolID,
		Index:     index,
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
