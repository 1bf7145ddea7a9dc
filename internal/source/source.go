package source

import (
	"context"
	"sort"
	"sync"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
)

// PoolSource lists every pool a protocol publishes.
type PoolSource interface {
	FetchPools(ctx context.Context) (model.PoolSnapshot, error)
}

// SinglePoolSource fetches one pool by id.
type SinglePoolSource interface {
	FetchPool(ctx context.Context, poolID string) (model.PoolSnapshot, error)
}

// PositionSource returns the complete position set of one pool.
type PositionSource interface {
	FetchPositions(ctx context.Context, poolID string) ([]model.Position, error)
}

type TokenSource interface {
	FetchTokens(ctx context.Context) ([]model.Token, error)
}

// Registry maps a dex tag to its adapter. An adapter may implement any
// subset of the source interfaces.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]any
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]any)}
}

func (r *Registry) Register(dex string, adapter any) {
	r.mu.Lock()
	r.adapters[dex] = adapter
	r.mu.Unlock()
}

// Names returns registered dex tags in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(dex string) (any, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[dex]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Validationf("resolve source", "unknown source %q", dex)
	}
	return adapter, nil
}

func (r *Registry) Pools(dex string) (PoolSource, error) {
	return resolve[PoolSource](r, dex, "pool listing")
}

func (r *Registry) Pool(dex string) (SinglePoolSource, error) {
	return resolve[SinglePoolSource](r, dex, "single pool fetch")
}

func (r *Registry) Positions(dex string) (PositionSource, error) {
	return resolve[PositionSource](r, dex, "positions")
}

func (r *Registry) Tokens(dex string) (TokenSource, error) {
	return resolve[TokenSource](r, dex, "token listing")
}

func resolve[T any](r *Registry, dex, capability string) (T, error) {
	var zero T
	adapter, err := r.lookup(dex)
	if err != nil {
		return zero, err
	}
	typed, ok := adapter.(T)
	if !ok {
		return zero, apperr.Validationf("resolve source", "source %q does not support %s", dex, capability)
	}
	return typed, nil
}
