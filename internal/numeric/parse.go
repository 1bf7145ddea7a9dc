package numeric

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"poolmirror/internal/apperr"
)

// ParseLiquidity canonicalizes a non-negative base-10 integer of any size.
func ParseLiquidity(s string) (string, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return "", apperr.Validationf("parse liquidity", "not an integer: %q", s)
	}
	if v.Sign() < 0 {
		return "", apperr.Validationf("parse liquidity", "negative liquidity: %q", s)
	}
	return v.String(), nil
}

// ParseFee parses a fixed-point fee rate.
func ParseFee(s string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, apperr.Validation("parse fee", fmt.Errorf("%q: %w", s, err))
	}
	if fee.IsNegative() {
		return decimal.Decimal{}, apperr.Validationf("parse fee", "negative fee: %q", s)
	}
	return fee, nil
}

// FeeFromHundredthsBip converts an EVM fee tier (e.g. 3000) to a rate (0.003).
func FeeFromHundredthsBip(tier uint32) decimal.Decimal {
	return decimal.New(int64(tier), -6)
}

// ParseFloat parses a finite float carried as a string in an API payload.
// An empty string decodes to zero.
func ParseFloat(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperr.Validation("parse "+field, fmt.Errorf("%q: %w", s, err))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Validationf("parse "+field, "not finite: %q", s)
	}
	return v, nil
}

// ParseIndex parses a position index that must fit in int32.
func ParseIndex(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, apperr.Validation("parse position index", fmt.Errorf("%q: %w", s, err))
	}
	if v < 0 {
		return 0, apperr.Validationf("parse position index", "negative index: %q", s)
	}
	return int32(v), nil
}
