package sqlstore

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"poolmirror/internal/model"
	"poolmirror/internal/store"
)

// Dialect selects placeholder syntax and engine quirks.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	// OffsetNeedsLimit is set for engines that reject OFFSET without LIMIT.
	OffsetNeedsLimit bool
}

var (
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar}
	SQLite   = Dialect{Name: "sqlite", Placeholder: sq.Question, OffsetNeedsLimit: true}
)

// Statement is rendered SQL with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Builder renders the mirror's statements for one dialect.
type Builder struct {
	dialect Dialect
	sb      sq.StatementBuilderType
}

func NewBuilder(d Dialect) Builder {
	return Builder{dialect: d, sb: sq.StatementBuilder.PlaceholderFormat(d.Placeholder)}
}

func (b Builder) Dialect() Dialect { return b.dialect }

var poolColumns = []string{
	"id", "token_a", "token_b", "CAST(fee AS TEXT)", "dex", "trading_apr", "bonus_apr", "tvl",
	"volume_day", "volume_week", "volume_month", "volume_prev_day", "updated_at",
}

var positionColumns = []string{"pool", "idx", "tick_lower", "tick_upper", "liquidity", "updated_at"}

var tokenColumns = []string{"id", "symbol", "name", "logo", "decimals", "updated_at"}

func (b Builder) UpsertToken(t model.Token) (Statement, error) {
	return render(b.sb.Insert("tokens").
		Columns("id", "symbol", "name", "logo", "decimals", "updated_at").
		Values(t.ID, t.Symbol, t.Name, t.Logo, t.Decimals, utc(t.UpdatedAt)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			logo = excluded.logo,
			decimals = excluded.decimals,
			updated_at = excluded.updated_at`))
}

func (b Builder) UpsertPool(p model.Pool) (Statement, error) {
	return render(b.sb.Insert("pools").
		Columns("id", "token_a", "token_b", "fee", "dex", "trading_apr", "bonus_apr", "tvl",
			"volume_day", "volume_week", "volume_month", "volume_prev_day", "updated_at").
		Values(p.ID, p.TokenA, p.TokenB, p.Fee.String(), p.Dex, p.TradingAPR, p.BonusAPR, p.TVL,
			p.VolumeDay, p.VolumeWeek, p.VolumeMonth, p.VolumePrevDay, utc(p.UpdatedAt)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			token_a = excluded.token_a,
			token_b = excluded.token_b,
			fee = excluded.fee,
			dex = excluded.dex,
			trading_apr = excluded.trading_apr,
			bonus_apr = excluded.bonus_apr,
			tvl = excluded.tvl,
			volume_day = excluded.volume_day,
			volume_week = excluded.volume_week,
			volume_month = excluded.volume_month,
			volume_prev_day = excluded.volume_prev_day,
			updated_at = excluded.updated_at`))
}

func (b Builder) UpsertPosition(p model.Position) (Statement, error) {
	return render(b.sb.Insert("positions").
		Columns(positionColumns...).
		Values(p.PoolID, p.Index, p.TickLower, p.TickUpper, p.Liquidity, utc(p.UpdatedAt)).
		Suffix(`ON CONFLICT (pool, idx) DO UPDATE SET
			tick_lower = excluded.tick_lower,
			tick_upper = excluded.tick_upper,
			liquidity = excluded.liquidity,
			updated_at = excluded.updated_at`))
}

func (b Builder) DeletePositionsNotIn(poolID string, keep []int32) (Statement, error) {
	del := b.sb.Delete("positions").Where(sq.Eq{"pool": poolID})
	if len(keep) > 0 {
		del = del.Where(sq.NotEq{"idx": keep})
	}
	return render(del)
}

func (b Builder) PositionIndexes(poolID string) (Statement, error) {
	return render(b.sb.Select("idx").From("positions").Where(sq.Eq{"pool": poolID}).OrderBy("idx ASC"))
}

func (b Builder) ExistingPoolIDs(ids []string) (Statement, error) {
	return render(b.sb.Select("id").From("pools").Where(sq.Eq{"id": ids}).OrderBy("id ASC"))
}

func (b Builder) GetPool(id string) (Statement, error) {
	return render(b.sb.Select(poolColumns...).From("pools").Where(sq.Eq{"id": id}))
}

func (b Builder) PoolIDsByDex(dex string) (Statement, error) {
	return render(b.sb.Select("id").From("pools").Where(sq.Eq{"dex": dex}).OrderBy("id ASC"))
}

func (b Builder) ListPositions(poolID string) (Statement, error) {
	return render(b.sb.Select(positionColumns...).From("positions").
		Where(sq.Eq{"pool": poolID}).OrderBy("idx ASC"))
}

func (b Builder) ListTokens(limit, offset uint64) (Statement, error) {
	sel := b.sb.Select(tokenColumns...).From("tokens").OrderBy("symbol ASC", "id ASC")
	return render(b.paginate(sel, limit, offset))
}

func (b Builder) ListDexes() (Statement, error) {
	return render(b.sb.Select("dex").Distinct().From("pools").OrderBy("dex ASC"))
}

// QueryPools renders the pushable part of a pool query. Column names are
// checked against the known set; values are always bound.
func (b Builder) QueryPools(q store.PoolQuery) (Statement, error) {
	sel := b.sb.Select(poolColumns...).From("pools")

	f := q.Filter
	if f.Token != "" {
		sel = sel.Where(sq.Or{sq.Eq{"token_a": f.Token}, sq.Eq{"token_b": f.Token}})
	}
	if f.FeeEq != nil {
		sel = sel.Where(sq.Eq{"fee": f.FeeEq.String()})
	}
	if f.FeeMin != nil {
		sel = sel.Where(sq.GtOrEq{"fee": f.FeeMin.String()})
	}
	if f.FeeMax != nil {
		sel = sel.Where(sq.LtOrEq{"fee": f.FeeMax.String()})
	}
	for _, r := range f.Ranges {
		if !store.IsRangeColumn(r.Column) {
			return Statement{}, fmt.Errorf("range on unsupported column %q", r.Column)
		}
		col := string(r.Column)
		if r.Min != nil {
			sel = sel.Where(sq.GtOrEq{col: *r.Min})
		}
		if r.Max != nil {
			sel = sel.Where(sq.LtOrEq{col: *r.Max})
		}
	}

	hasID := false
	for _, term := range q.Order {
		if !store.IsOrderColumn(term.Column) {
			return Statement{}, fmt.Errorf("order on unsupported column %q", term.Column)
		}
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		sel = sel.OrderBy(string(term.Column) + " " + dir)
		if term.Column == store.ColumnID {
			hasID = true
		}
	}
	if !hasID {
		sel = sel.OrderBy("id ASC")
	}

	return render(b.paginate(sel, q.Limit, q.Offset))
}

func (b Builder) LoadState(name string) (Statement, error) {
	return render(b.sb.Select("last_processed_ts").From("sync_state").Where(sq.Eq{"name": name}))
}

func (b Builder) SaveState(name string, ts uint64, now time.Time) (Statement, error) {
	return render(b.sb.Insert("sync_state").
		Columns("name", "last_processed_ts", "updated_at").
		Values(name, int64(ts), utc(now)).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			last_processed_ts = excluded.last_processed_ts,
			updated_at = excluded.updated_at`))
}

func (b Builder) paginate(sel sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	if offset > 0 {
		if limit == 0 && b.dialect.OffsetNeedsLimit {
			return sel.Suffix("LIMIT -1 OFFSET ?", offset)
		}
		sel = sel.Offset(offset)
	}
	return sel
}

func render(s sq.Sqlizer) (Statement, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build sql: %w", err)
	}
	return Statement{SQL: query, Args: args}, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
