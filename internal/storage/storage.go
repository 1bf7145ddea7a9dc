package storage

import (
	"context"
	"time"

	"poolmirror/internal/model"
)

// Record is one fetched snapshot as it arrived from a source.
type Record struct {
	Scope     string           `json:"scope"`
	Source    string           `json:"source"`
	FetchedAt time.Time        `json:"fetched_at"`
	Pools     []model.Pool     `json:"pools,omitempty"`
	Positions []model.Position `json:"positions,omitempty"`
	Tokens    []model.Token    `json:"tokens,omitempty"`
}

// Archive is an append-only sink for fetched snapshots.
type Archive interface {
	Put(ctx context.Context, record Record) error
}
