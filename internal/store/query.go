package store

import "github.com/shopspring/decimal"

// Column names a stored, orderable pool attribute.
type Column string

const (
	ColumnID            Column = "id"
	ColumnFee           Column = "fee"
	ColumnTradingAPR    Column = "trading_apr"
	ColumnBonusAPR      Column = "bonus_apr"
	ColumnTVL           Column = "tvl"
	ColumnVolumeDay     Column = "volume_day"
	ColumnVolumeWeek    Column = "volume_week"
	ColumnVolumeMonth   Column = "volume_month"
	ColumnVolumePrevDay Column = "volume_prev_day"
	ColumnUpdatedAt     Column = "updated_at"
)

var floatColumns = map[Column]bool{
	ColumnTradingAPR:    true,
	ColumnBonusAPR:      true,
	ColumnTVL:           true,
	ColumnVolumeDay:     true,
	ColumnVolumeWeek:    true,
	ColumnVolumeMonth:   true,
	ColumnVolumePrevDay: true,
}

var orderColumns = map[Column]bool{
	ColumnID:        true,
	ColumnFee:       true,
	ColumnUpdatedAt: true,
}

// IsRangeColumn reports whether c accepts a float range predicate.
func IsRangeColumn(c Column) bool { return floatColumns[c] }

// IsOrderColumn reports whether c can be used in ORDER BY.
func IsOrderColumn(c Column) bool { return floatColumns[c] || orderColumns[c] }

// Range bounds a float column; nil bounds are open.
type Range struct {
	Column Column
	Min    *float64
	Max    *float64
}

// PoolFilter holds the pushable predicates. All set fields are ANDed.
type PoolFilter struct {
	// Token matches either token slot.
	Token  string
	FeeEq  *decimal.Decimal
	FeeMin *decimal.Decimal
	FeeMax *decimal.Decimal
	Ranges []Range
}

type OrderTerm struct {
	Column Column
	Desc   bool
}

// PoolQuery is a pushable predicate set plus ordering and pagination.
// Zero Limit means unlimited.
type PoolQuery struct {
	Filter PoolFilter
	Order  []OrderTerm
	Limit  uint64
	Offset uint64
}
