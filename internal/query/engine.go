package query

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"poolmirror/internal/metrics"
	"poolmirror/internal/model"
	"poolmirror/internal/store"
)

// Result is a page of pools. Count is the length of Pools, not a total
// across pages.
type Result struct {
	Pools []model.Pool `json:"pools"`
	Count int          `json:"count"`
}

// Engine answers pool queries. Stored attributes are pushed down to the
// store; total APR is applied in memory over the full match set.
type Engine struct {
	reader  store.Reader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewEngine(reader store.Reader, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reader: reader, metrics: m, logger: logger}
}

func (e *Engine) QueryPools(ctx context.Context, c Criteria) (Result, error) {
	started := time.Now()
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	c = c.withDefaults()

	q, derived := plan(c)
	pools, err := e.reader.QueryPools(ctx, q)
	if err != nil {
		return Result{}, err
	}

	if derived {
		fetched := len(pools)
		pools = filterTotalAPR(pools, c)
		if c.OrderBy == OrderTotalAPR {
			sortByTotalAPR(pools, c.OrderDir == Desc)
		}
		pools = page(pools, c.Limit, c.Offset)
		e.logger.Debug("total apr applied in memory",
			zap.Int("fetched", fetched),
			zap.Int("returned", len(pools)),
		)
	}
	if pools == nil {
		pools = []model.Pool{}
	}

	e.metrics.ObserveQuery(started, len(pools))
	return Result{Pools: pools, Count: len(pools)}, nil
}

// plan builds the store query. derived reports whether total APR needs a
// post-fetch pass, in which case pagination is left out of the store query.
func plan(c Criteria) (store.PoolQuery, bool) {
	var q store.PoolQuery

	q.Filter.Token = c.Token
	q.Filter.FeeEq = c.FeeEq
	q.Filter.FeeMin = c.FeeMin
	q.Filter.FeeMax = c.FeeMax

	if c.VolumeMin != nil || c.VolumeMax != nil {
		q.Filter.Ranges = append(q.Filter.Ranges, store.Range{
			Column: periodColumns[c.VolumePeriod],
			Min:    c.VolumeMin,
			Max:    c.VolumeMax,
		})
	}
	if c.TVLMin != nil || c.TVLMax != nil {
		q.Filter.Ranges = append(q.Filter.Ranges, store.Range{Column: store.ColumnTVL, Min: c.TVLMin, Max: c.TVLMax})
	}

	hasAPRRange := c.APRMin != nil || c.APRMax != nil
	switch {
	case hasAPRRange && c.APRType == APRTrading:
		q.Filter.Ranges = append(q.Filter.Ranges, store.Range{Column: store.ColumnTradingAPR, Min: c.APRMin, Max: c.APRMax})
	case hasAPRRange && c.APRType == APRBonus:
		q.Filter.Ranges = append(q.Filter.Ranges, store.Range{Column: store.ColumnBonusAPR, Min: c.APRMin, Max: c.APRMax})
	}

	desc := c.OrderDir == Desc
	switch c.OrderBy {
	case "":
		q.Order = []store.OrderTerm{{Column: store.ColumnTVL, Desc: true}}
	case OrderTotalAPR:
		q.Order = []store.OrderTerm{{Column: store.ColumnBonusAPR, Desc: desc}}
	default:
		q.Order = []store.OrderTerm{{Column: orderColumns[c.OrderBy], Desc: desc}}
	}

	derived := (hasAPRRange && c.APRType == APRTotal) || c.OrderBy == OrderTotalAPR
	if !derived {
		q.Limit = c.Limit
		q.Offset = c.Offset
	}
	return q, derived
}

func filterTotalAPR(pools []model.Pool, c Criteria) []model.Pool {
	if c.APRType != APRTotal || (c.APRMin == nil && c.APRMax == nil) {
		return pools
	}
	out := pools[:0]
	for _, p := range pools {
		total := p.TotalAPR()
		if c.APRMin != nil && total < *c.APRMin {
			continue
		}
		if c.APRMax != nil && total > *c.APRMax {
			continue
		}
		out = append(out, p)
	}
	return out
}

// sortByTotalAPR orders by the computed sum, then by id ascending.
func sortByTotalAPR(pools []model.Pool, desc bool) {
	sort.SliceStable(pools, func(i, j int) bool {
		a, b := pools[i].TotalAPR(), pools[j].TotalAPR()
		if a != b {
			if desc {
				return a > b
			}
			return a < b
		}
		return pools[i].ID < pools[j].ID
	})
}

func page(pools []model.Pool, limit, offset uint64) []model.Pool {
	if offset >= uint64(len(pools)) {
		return []model.Pool{}
	}
	pools = pools[offset:]
	if limit > 0 && limit < uint64(len(pools)) {
		pools = pools[:limit]
	}
	return pools
}
