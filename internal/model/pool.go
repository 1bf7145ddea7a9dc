package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"poolmirror/internal/apperr"
)

// Pool is the canonical mirror of one DEX pool.
type Pool struct {
	ID            string          `json:"id"`
	TokenA        *string         `json:"token_a"`
	TokenB        *string         `json:"token_b"`
	Fee           decimal.Decimal `json:"fee"`
	Dex           string          `json:"dex"`
	TradingAPR    float64         `json:"trading_apr"`
	BonusAPR      float64         `json:"bonus_apr"`
	TVL           float64         `json:"tvl"`
	VolumeDay     float64         `json:"volume_day"`
	VolumeWeek    float64         `json:"volume_week"`
	VolumeMonth   float64         `json:"volume_month"`
	VolumePrevDay float64         `json:"volume_prev_day"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TotalAPR is trading plus bonus APR. It is never stored.
func (p Pool) TotalAPR() float64 {
	return p.TradingAPR + p.BonusAPR
}

// HasToken reports whether token occupies either token slot.
func (p Pool) HasToken(token string) bool {
	return (p.TokenA != nil && *p.TokenA == token) || (p.TokenB != nil && *p.TokenB == token)
}

// Validate checks identity and numeric domains.
func (p Pool) Validate() error {
	if p.ID == "" {
		return apperr.Validationf("validate pool", "pool id is empty")
	}
	if p.Dex == "" {
		return apperr.Validationf("validate pool", "pool %s: dex is empty", p.ID)
	}
	if p.Fee.IsNegative() {
		return apperr.Validationf("validate pool", "pool %s: negative fee %s", p.ID, p.Fee.String())
	}
	if p.TradingAPR < 0 || p.BonusAPR < 0 {
		return apperr.Validationf("validate pool", "pool %s: negative apr", p.ID)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"trading_apr", p.TradingAPR},
		{"bonus_apr", p.BonusAPR},
		{"tvl", p.TVL},
		{"volume_day", p.VolumeDay},
		{"volume_week", p.VolumeWeek},
		{"volume_month", p.VolumeMonth},
		{"volume_prev_day", p.VolumePrevDay},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return apperr.Validationf("validate pool", "pool %s: %s is not finite", p.ID, f.name)
		}
	}
	return nil
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
