package sqlstore

import (
	"fmt"

	"github.com/shopspring/decimal"

	"poolmirror/internal/model"
)

// Scanner is satisfied by both database/sql and pgx rows.
type Scanner interface {
	Scan(dest ...any) error
}

func ScanPool(row Scanner) (model.Pool, error) {
	var (
		p   model.Pool
		fee string
	)
	if err := row.Scan(
		&p.ID, &p.TokenA, &p.TokenB, &fee, &p.Dex, &p.TradingAPR, &p.BonusAPR, &p.TVL,
		&p.VolumeDay, &p.VolumeWeek, &p.VolumeMonth, &p.VolumePrevDay, &p.UpdatedAt,
	); err != nil {
		return model.Pool{}, err
	}
	parsed, err := decimal.NewFromString(fee)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: stored fee %q: %w", p.ID, fee, err)
	}
	p.Fee = parsed
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func ScanPosition(row Scanner) (model.Position, error) {
	var p model.Position
	if err := row.Scan(&p.PoolID, &p.Index, &p.TickLower, &p.TickUpper, &p.Liquidity, &p.UpdatedAt); err != nil {
		return model.Position{}, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func ScanToken(row Scanner) (model.Token, error) {
	var t model.Token
	if err := row.Scan(&t.ID, &t.Symbol, &t.Name, &t.Logo, &t.Decimals, &t.UpdatedAt); err != nil {
		return model.Token{}, err
	}
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
