package model

import (
	"time"

	"poolmirror/internal/apperr"
)

// Token captures display metadata for an on-chain asset.
type Token struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      *string   `json:"name"`
	Logo      *string   `json:"logo"`
	Decimals  int32     `json:"decimals"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Token) Validate() error {
	if t.ID == "" {
		return apperr.Validationf("validate token", "token id is empty")
	}
	if t.Decimals < 0 || t.Decimals > 255 {
		return apperr.Validationf("validate token", "token %s: decimals %d out of range", t.ID, t.Decimals)
	}
	return nil
}
