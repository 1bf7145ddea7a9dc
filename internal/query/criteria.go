package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"poolmirror/internal/apperr"
	"poolmirror/internal/numeric"
	"poolmirror/internal/store"
)

type VolumePeriod string

const (
	PeriodDay     VolumePeriod = "day"
	PeriodWeek    VolumePeriod = "week"
	PeriodMonth   VolumePeriod = "month"
	PeriodPrevDay VolumePeriod = "prevday"
)

var periodColumns = map[VolumePeriod]store.Column{
	PeriodDay:     store.ColumnVolumeDay,
	PeriodWeek:    store.ColumnVolumeWeek,
	PeriodMonth:   store.ColumnVolumeMonth,
	PeriodPrevDay: store.ColumnVolumePrevDay,
}

type APRType string

const (
	APRTrading APRType = "trading"
	APRBonus   APRType = "bonus"
	APRTotal   APRType = "total"
)

type OrderKey string

const (
	OrderFee           OrderKey = "fee"
	OrderVolumeDay     OrderKey = "volume_day"
	OrderVolumeWeek    OrderKey = "volume_week"
	OrderVolumeMonth   OrderKey = "volume_month"
	OrderVolumePrevDay OrderKey = "volume_prev_day"
	OrderTradingAPR    OrderKey = "trading_apr"
	OrderBonusAPR      OrderKey = "bonus_apr"
	OrderTotalAPR      OrderKey = "total_apr"
	OrderTVL           OrderKey = "tvl"
	OrderUpdatedAt     OrderKey = "updated_at"
)

// orderColumns maps every order key except total_apr, which has no column.
var orderColumns = map[OrderKey]store.Column{
	OrderFee:           store.ColumnFee,
	OrderVolumeDay:     store.ColumnVolumeDay,
	OrderVolumeWeek:    store.ColumnVolumeWeek,
	OrderVolumeMonth:   store.ColumnVolumeMonth,
	OrderVolumePrevDay: store.ColumnVolumePrevDay,
	OrderTradingAPR:    store.ColumnTradingAPR,
	OrderBonusAPR:      store.ColumnBonusAPR,
	OrderTVL:           store.ColumnTVL,
	OrderUpdatedAt:     store.ColumnUpdatedAt,
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Criteria selects and orders pools. Nil bounds and empty strings are
// unset. Limit zero returns every match.
type Criteria struct {
	Token string

	FeeEq  *decimal.Decimal
	FeeMin *decimal.Decimal
	FeeMax *decimal.Decimal

	VolumePeriod VolumePeriod
	VolumeMin    *float64
	VolumeMax    *float64

	TVLMin *float64
	TVLMax *float64

	APRType APRType
	APRMin  *float64
	APRMax  *float64

	OrderBy  OrderKey
	OrderDir Direction

	Limit  uint64
	Offset uint64
}

func (c Criteria) withDefaults() Criteria {
	if c.VolumePeriod == "" {
		c.VolumePeriod = PeriodDay
	}
	if c.APRType == "" {
		c.APRType = APRTotal
	}
	if c.OrderDir == "" {
		c.OrderDir = Desc
	}
	return c
}

// Validate checks enum fields after defaults are applied.
func (c Criteria) Validate() error {
	c = c.withDefaults()
	if _, ok := periodColumns[c.VolumePeriod]; !ok {
		return apperr.Validationf("query criteria", "unknown volume_period %q", c.VolumePeriod)
	}
	switch c.APRType {
	case APRTrading, APRBonus, APRTotal:
	default:
		return apperr.Validationf("query criteria", "unknown apr_type %q", c.APRType)
	}
	if c.OrderBy != "" && c.OrderBy != OrderTotalAPR {
		if _, ok := orderColumns[c.OrderBy]; !ok {
			return apperr.Validationf("query criteria", "unknown order_by %q", c.OrderBy)
		}
	}
	if c.OrderDir != Asc && c.OrderDir != Desc {
		return apperr.Validationf("query criteria", "unknown order_dir %q", c.OrderDir)
	}
	return nil
}

// ParseCriteria reads criteria from URL query parameters.
func ParseCriteria(values url.Values) (Criteria, error) {
	var c Criteria
	var err error

	c.Token = strings.TrimSpace(values.Get("token"))

	if c.FeeEq, err = parseDecimal(values, "fee"); err != nil {
		return Criteria{}, err
	}
	if c.FeeMin, err = parseDecimal(values, "fee_min"); err != nil {
		return Criteria{}, err
	}
	if c.FeeMax, err = parseDecimal(values, "fee_max"); err != nil {
		return Criteria{}, err
	}

	c.VolumePeriod = VolumePeriod(strings.ToLower(values.Get("volume_period")))
	if c.VolumeMin, err = parseFloat(values, "volume_min"); err != nil {
		return Criteria{}, err
	}
	if c.VolumeMax, err = parseFloat(values, "volume_max"); err != nil {
		return Criteria{}, err
	}
	if c.TVLMin, err = parseFloat(values, "tvl_min"); err != nil {
		return Criteria{}, err
	}
	if c.TVLMax, err = parseFloat(values, "tvl_max"); err != nil {
		return Criteria{}, err
	}

	c.APRType = APRType(strings.ToLower(values.Get("apr_type")))
	if c.APRMin, err = parseFloat(values, "apr_min"); err != nil {
		return Criteria{}, err
	}
	if c.APRMax, err = parseFloat(values, "apr_max"); err != nil {
		return Criteria{}, err
	}

	c.OrderBy = OrderKey(strings.ToLower(values.Get("order_by")))
	c.OrderDir = Direction(strings.ToLower(values.Get("order_dir")))

	if c.Limit, err = parseUint(values, "limit"); err != nil {
		return Criteria{}, err
	}
	if c.Offset, err = parseUint(values, "offset"); err != nil {
		return Criteria{}, err
	}

	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	return c.withDefaults(), nil
}

func parseDecimal(values url.Values, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := numeric.ParseFee(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &d, nil
}

func parseFloat(values url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, apperr.Validationf("parse "+key, "invalid number %q", raw)
	}
	return &v, nil
}

func parseUint(values url.Values, key string) (uint64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("parse "+key, fmt.Errorf("%q: %w", raw, err))
	}
	return v, nil
}
