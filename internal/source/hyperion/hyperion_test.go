package hyperion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmirror/internal/apperr"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestSource(t *testing.T, handle func(req gqlRequest) any) *Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(req))
	}))
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL}, nil)
}

func TestFetchPools(t *testing.T) {
	src := newTestSource(t, func(req gqlRequest) any {
		assert.Contains(t, req.Query, "GetAllPools")
		return map[string]any{"data": map[string]any{"pools": []any{
			map[string]any{"pool_id": "0xp1", "token_a": "0xa", "token_b": "0xb", "fee_tier": "0.0005",
				"tvl": 1200.0, "volume_24h": 300.0, "apr": 12.5},
			map[string]any{"pool_id": "0xp2", "token_a": "0xc", "token_b": "", "fee_tier": "0.003",
				"tvl": nil, "volume_24h": nil, "apr": nil},
		}}}
	})

	snap, err := src.FetchPools(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Pools, 2)

	p1 := snap.Pools[0]
	assert.Equal(t, Dex, p1.Dex)
	assert.Equal(t, "0.0005", p1.Fee.String())
	assert.InDelta(t, 12.5, p1.TradingAPR, 1e-9)
	assert.Zero(t, p1.BonusAPR)
	assert.InDelta(t, 300, p1.VolumeDay, 1e-9)

	p2 := snap.Pools[1]
	assert.Nil(t, p2.TokenB)
	assert.Zero(t, p2.TVL)
}

func TestFetchPoolsGraphQLErrorIsUpstream(t *testing.T) {
	src := newTestSource(t, func(gqlRequest) any {
		return map[string]any{"errors": []any{map[string]any{"message": "field 'pools' not found"}}}
	})
	_, err := src.FetchPools(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestFetchPoolByID(t *testing.T) {
	src := newTestSource(t, func(req gqlRequest) any {
		if req.Variables["poolId"] != "0xp1" {
			return map[string]any{"data": map[string]any{"pool": []any{}}}
		}
		return map[string]any{"data": map[string]any{"pool": []any{
			map[string]any{"pool_id": "0xp1", "token_a": "0xa", "token_b": "0xb", "fee_tier": "0.01"},
		}}}
	})

	snap, err := src.FetchPool(context.Background(), "0xp1")
	require.NoError(t, err)
	require.Len(t, snap.Pools, 1)

	_, err = src.FetchPool(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFetchPositions(t *testing.T) {
	src := newTestSource(t, func(req gqlRequest) any {
		assert.True(t, strings.Contains(req.Query, "positions"))
		assert.Equal(t, "0xp1", req.Variables["poolId"])
		return map[string]any{"data": map[string]any{"positions": []any{
			map[string]any{"position_id": "1", "pool_id": "0xp1", "owner": "0xo", "liquidity": "1000",
				"tick_lower": -887220, "tick_upper": 887220},
			map[string]any{"position_id": "2", "pool_id": "0xp1", "owner": "0xo", "liquidity": "5",
				"tick_lower": -60, "tick_upper": 60},
		}}}
	})

	positions, err := src.FetchPositions(context.Background(), "0xp1")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, int32(1), positions[0].Index)
	assert.Equal(t, int64(-887220), positions[0].TickLower)
	assert.Equal(t, "5", positions[1].Liquidity)
}

func TestFetchPositionsRejectsForeignPool(t *testing.T) {
	src := newTestSource(t, func(gqlRequest) any {
		return map[string]any{"data": map[string]any{"positions": []any{
			map[string]any{"position_id": "1", "pool_id": "0xother", "liquidity": "1", "tick_lower": 0, "tick_upper": 1},
		}}}
	})
	_, err := src.FetchPositions(context.Background(), "0xp1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
