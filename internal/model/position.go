package model

import (
	"math/big"
	"time"

	"poolmirror/internal/apperr"
)

// PositionKey identifies a position inside the store.
type PositionKey struct {
	PoolID string `json:"pool"`
	Index  int32  `json:"index"`
}

// Position is a liquidity position within one pool.
// Liquidity stays a base-10 string; magnitudes exceed 64 bits.
type Position struct {
	PoolID    string    `json:"pool"`
	Index     int32     `json:"index"`
	TickLower int64     `json:"tick_lower"`
	TickUpper int64     `json:"tick_upper"`
	Liquidity string    `json:"liquidity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Position) Key() PositionKey {
	return PositionKey{PoolID: p.PoolID, Index: p.Index}
}

// Validate checks the key, tick ordering, and liquidity encoding.
func (p Position) Validate() error {
	if p.PoolID == "" {
		return apperr.Validationf("validate position", "position %d: pool id is empty", p.Index)
	}
	if p.Index < 0 {
		return apperr.Validationf("validate position", "pool %s: negative position index %d", p.PoolID, p.Index)
	}
	if p.TickLower > p.TickUpper {
		return apperr.Validationf("validate position", "pool %s position %d: tick lower %d above tick upper %d",
			p.PoolID, p.Index, p.TickLower, p.TickUpper)
	}
	liq, ok := new(big.Int).SetString(p.Liquidity, 10)
	if !ok || liq.Sign() < 0 {
		return apperr.Validationf("validate position", "pool %s position %d: invalid liquidity %q",
			p.PoolID, p.Index, p.Liquidity)
	}
	return nil
}
