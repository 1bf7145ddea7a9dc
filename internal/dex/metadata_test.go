package dex

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	replies map[string][]byte
	calls   int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	out, ok := f.replies[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func reply(t *testing.T, parsed abi.ABI, method string, values ...interface{}) (string, []byte) {
	t.Helper()
	m, ok := parsed.Methods[method]
	require.True(t, ok, method)
	out, err := m.Outputs.Pack(values...)
	require.NoError(t, err)
	return string(m.ID), out
}

func TestFetchPoolMeta(t *testing.T) {
	poolABI, err := V3PoolABI()
	require.NoError(t, err)

	token0 := common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1 := common.HexToAddress("0x2000000000000000000000000000000000000002")
	caller := &fakeCaller{replies: map[string][]byte{}}
	for _, r := range []struct {
		method string
		value  interface{}
	}{
		{"token0", token0},
		{"token1", token1},
		{"fee", big.NewInt(3000)},
	} {
		id, out := reply(t, poolABI, r.method, r.value)
		caller.replies[id] = out
	}

	meta, err := FetchPoolMeta(context.Background(), caller, common.HexToAddress("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, token0, meta.Token0)
	assert.Equal(t, token1, meta.Token1)
	assert.Equal(t, uint32(3000), meta.Fee)
	assert.Equal(t, 3, caller.calls, "one eth_call per stored field")
}

func TestFetchPoolMetaCallError(t *testing.T) {
	_, err := FetchPoolMeta(context.Background(), &fakeCaller{}, common.HexToAddress("0xabc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call token0")

	_, err = FetchPoolMeta(context.Background(), nil, common.HexToAddress("0xabc"))
	require.Error(t, err)
}

func TestFetchTokenMeta(t *testing.T) {
	stringABI, err := ERC20ABI()
	require.NoError(t, err)

	caller := &fakeCaller{replies: map[string][]byte{}}
	for _, r := range []struct {
		method string
		value  interface{}
	}{
		{"decimals", uint8(6)},
		{"symbol", "USDC"},
		{"name", "USD Coin"},
	} {
		id, out := reply(t, stringABI, r.method, r.value)
		caller.replies[id] = out
	}

	token := common.HexToAddress("0xa0b8")
	meta, err := FetchTokenMeta(context.Background(), caller, token, nil)
	require.NoError(t, err)
	assert.Equal(t, TokenMeta{Address: token, Decimals: 6, Symbol: "USDC", Name: "USD Coin"}, meta)
}

func TestFetchTokenMetaBytes32(t *testing.T) {
	stringABI, err := ERC20ABI()
	require.NoError(t, err)
	bytesABI, err := ERC20Bytes32ABI()
	require.NoError(t, err)

	var symbol [32]byte
	copy(symbol[:], "MKR")
	caller := &fakeCaller{replies: map[string][]byte{}}
	id, out := reply(t, stringABI, "decimals", uint8(18))
	caller.replies[id] = out
	id, out = reply(t, bytesABI, "symbol", symbol)
	caller.replies[id] = out

	meta, err := FetchTokenMeta(context.Background(), caller, common.HexToAddress("0x9f8f"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), meta.Decimals)
	assert.Equal(t, "MKR", meta.Symbol)
	assert.Empty(t, meta.Name)
}

func TestMetaCache(t *testing.T) {
	cache := NewMetaCache[TokenMeta]()
	addr := common.HexToAddress("0x01")
	_, ok := cache.Get(addr)
	assert.False(t, ok)

	cache.Set(addr, TokenMeta{Address: addr, Decimals: 8})
	got, ok := cache.Get(addr)
	require.True(t, ok)
	assert.Equal(t, uint8(8), got.Decimals)
}
