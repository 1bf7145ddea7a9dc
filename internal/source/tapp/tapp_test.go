package tapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmirror/internal/apperr"
)

type rpcServer struct {
	mu       sync.Mutex
	ids      []uint64
	handlers map[string]func(query map[string]any) (any, *rpcError)
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSONRPC string `json:"jsonrpc"`
		ID      uint64 `json:"id"`
		Method  string `json:"method"`
		Params  struct {
			Query map[string]any `json:"query"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JSONRPC != "2.0" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.ids = append(s.ids, req.ID)
	s.mu.Unlock()

	handler, ok := s.handlers[req.Method]
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "error": rpcError{Code: -32601, Message: "method not found"}})
		return
	}
	data, rpcErr := handler(req.Params.Query)
	if rpcErr != nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "error": rpcErr})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"data": data}})
}

func poolJSON(id, fee, tvl string, tokens ...string) map[string]any {
	toks := make([]map[string]any, 0, len(tokens))
	for _, tok := range tokens {
		toks = append(toks, map[string]any{"addr": tok, "symbol": "T", "img": ""})
	}
	return map[string]any{
		"poolId":   id,
		"poolType": "CLMM",
		"feeTier":  fee,
		"tvl":      tvl,
		"apr":      map[string]any{"boostedAprPercentage": 1.5, "feeAprPercentage": 2.5, "totalAprPercentage": 4.0},
		"tokens":   toks,
		"volumeData": map[string]any{
			"volume24h": 10.0, "volume7d": 70.0, "volume30d": 300.0, "volumeprev24h": 9.0,
		},
	}
}

func newTestSource(t *testing.T, rpc http.Handler, view http.Handler, pageSize int) *Source {
	t.Helper()
	cfg := Config{PageSize: pageSize, MaxPages: 10}
	if rpc != nil {
		srv := httptest.NewServer(rpc)
		t.Cleanup(srv.Close)
		cfg.APIURL = srv.URL
	}
	if view != nil {
		srv := httptest.NewServer(view)
		t.Cleanup(srv.Close)
		cfg.NodeURL = srv.URL + "/v1"
	}
	return New(cfg, nil)
}

func TestFetchPoolsPagesAndMaps(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/pool": func(q map[string]any) (any, *rpcError) {
			if q["poolType"] != "CLMM" {
				return nil, &rpcError{Code: 1, Message: "pool type"}
			}
			switch q["page"].(float64) {
			case 1:
				return []any{poolJSON("p1", "0.3", "1000.5", "0xa", "0xb"), poolJSON("p2", "0.05", "20", "0xc", "0xd")}, nil
			case 2:
				return []any{poolJSON("p3", "1", "", "0xe")}, nil
			default:
				return []any{}, nil
			}
		},
	}}
	src := newTestSource(t, server, nil, 2)

	snap, err := src.FetchPools(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Pools, 3)

	p1 := snap.Pools[0]
	assert.Equal(t, "p1", p1.ID)
	assert.Equal(t, Dex, p1.Dex)
	assert.Equal(t, "0.3", p1.Fee.String())
	assert.InDelta(t, 1000.5, p1.TVL, 1e-9)
	assert.InDelta(t, 2.5, p1.TradingAPR, 1e-9)
	assert.InDelta(t, 1.5, p1.BonusAPR, 1e-9)
	assert.InDelta(t, 9.0, p1.VolumePrevDay, 1e-9)
	assert.Equal(t, "0xa", *p1.TokenA)
	assert.Equal(t, "0xb", *p1.TokenB)

	p3 := snap.Pools[2]
	assert.Equal(t, "0xe", *p3.TokenA)
	assert.Nil(t, p3.TokenB)
	assert.Zero(t, p3.TVL)

	assert.Equal(t, []uint64{1, 2}, server.ids)
}

func TestFetchPoolsRejectsMalformedFee(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/pool": func(map[string]any) (any, *rpcError) {
			return []any{poolJSON("p1", "0.3", "1"), poolJSON("p2", "three", "1")}, nil
		},
	}}
	src := newTestSource(t, server, nil, 10)

	_, err := src.FetchPools(context.Background())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFetchPoolsFailsWhenPageCapIsReached(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/pool": func(q map[string]any) (any, *rpcError) {
			page := int(q["page"].(float64))
			return []any{poolJSON(fmt.Sprintf("p%da", page), "0.3", "1"), poolJSON(fmt.Sprintf("p%db", page), "0.3", "1")}, nil
		},
	}}
	src := newTestSource(t, server, nil, 2)
	src.maxPages = 3

	snap, err := src.FetchPools(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Empty(t, snap.Pools)
	assert.Equal(t, []uint64{1, 2, 3}, server.ids)
}

func TestFetchPoolsSurfacesRPCErrorAsUpstream(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/pool": func(map[string]any) (any, *rpcError) {
			return nil, &rpcError{Code: 500, Message: "overloaded"}
		},
	}}
	src := newTestSource(t, server, nil, 10)

	_, err := src.FetchPools(context.Background())
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestFetchPoolByID(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/pool": func(map[string]any) (any, *rpcError) {
			return []any{poolJSON("p1", "0.3", "1"), poolJSON("p2", "0.3", "2")}, nil
		},
	}}
	src := newTestSource(t, server, nil, 10)

	snap, err := src.FetchPool(context.Background(), "p2")
	require.NoError(t, err)
	require.Len(t, snap.Pools, 1)
	assert.Equal(t, "p2", snap.Pools[0].ID)

	_, err = src.FetchPool(context.Background(), "p9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFetchTokens(t *testing.T) {
	server := &rpcServer{handlers: map[string]func(map[string]any) (any, *rpcError){
		"public/token": func(q map[string]any) (any, *rpcError) {
			if q["page"].(float64) > 1 {
				return []any{}, nil
			}
			return []any{
				map[string]any{"addr": "0xa", "decimals": 8, "img": "https://img/apt.png", "name": "Aptos", "ticker": "APT"},
				map[string]any{"addr": "0xb", "decimals": 6, "img": "", "name": "", "ticker": "USDC"},
			}, nil
		},
	}}
	src := newTestSource(t, server, nil, 2)

	tokens, err := src.FetchTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "APT", tokens[0].Symbol)
	assert.Equal(t, "Aptos", *tokens[0].Name)
	assert.Equal(t, int32(8), tokens[0].Decimals)
	assert.Nil(t, tokens[1].Name)
	assert.Nil(t, tokens[1].Logo)
}

func TestFetchPositionsDecodesTickBits(t *testing.T) {
	var gotBody viewRequest
	view := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/view" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `[[
			{"index":"0","liquidity":"340282366920938463463374607431768211455",
			 "tick_lower_index":{"bits":"18446744073709551516"},"tick_upper_index":{"bits":"100"},
			 "fee_owed_a":"0","fee_owed_b":"0"},
			{"index":"7","liquidity":"5",
			 "tick_lower_index":{"bits":"18446744073709551615"},"tick_upper_index":{"bits":"5"}}
		]]`)
	})
	src := newTestSource(t, nil, view, 10)

	positions, err := src.FetchPositions(context.Background(), "0xpool")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, DefaultViewAddress+"::clmm_views::get_positions", gotBody.Function)
	assert.Equal(t, []any{"0xpool"}, gotBody.Arguments)

	assert.Equal(t, "0xpool", positions[0].PoolID)
	assert.Equal(t, int64(-100), positions[0].TickLower)
	assert.Equal(t, int64(100), positions[0].TickUpper)
	assert.Equal(t, "340282366920938463463374607431768211455", positions[0].Liquidity)
	assert.Equal(t, int32(7), positions[1].Index)
	assert.Equal(t, int64(-1), positions[1].TickLower)
}

func TestFetchPositionsFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   error
	}{
		"http error":     {http.StatusBadGateway, `{"message":"down"}`, apperr.ErrUpstream},
		"malformed body": {http.StatusOK, `{"not":"an array"}`, apperr.ErrUpstream},
		"bad liquidity":  {http.StatusOK, `[[{"index":"0","liquidity":"1e9","tick_lower_index":{"bits":"0"},"tick_upper_index":{"bits":"1"}}]]`, apperr.ErrValidation},
		"bad tick bits":  {http.StatusOK, `[[{"index":"0","liquidity":"1","tick_lower_index":{"bits":"-5"},"tick_upper_index":{"bits":"1"}}]]`, apperr.ErrValidation},
		"inverted ticks": {http.StatusOK, `[[{"index":"0","liquidity":"1","tick_lower_index":{"bits":"10"},"tick_upper_index":{"bits":"1"}}]]`, apperr.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			view := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			src := newTestSource(t, nil, view, 10)
			_, err := src.FetchPositions(context.Background(), "0xpool")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
