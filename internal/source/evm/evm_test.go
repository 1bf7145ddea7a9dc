package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmirror/internal/apperr"
)

const erc20JSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

const poolJSON = `[
  {"inputs": [], "name": "token0", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"type": "uint24"}], "stateMutability": "view", "type": "function"}
]`

var (
	poolAddr = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

// chainStub answers view calls per contract address and method selector.
type chainStub struct {
	replies map[common.Address]map[string][]byte
	calls   atomic.Int64
}

func (c *chainStub) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls.Add(1)
	byMethod, ok := c.replies[*msg.To]
	if !ok {
		return nil, errors.New("no code at address")
	}
	out, ok := byMethod[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (c *chainStub) set(t *testing.T, to common.Address, parsed abi.ABI, method string, value interface{}) {
	t.Helper()
	m := parsed.Methods[method]
	out, err := m.Outputs.Pack(value)
	require.NoError(t, err)
	if c.replies[to] == nil {
		c.replies[to] = map[string][]byte{}
	}
	c.replies[to][string(m.ID)] = out
}

func newChain(t *testing.T) *chainStub {
	t.Helper()
	poolABI, err := abi.JSON(strings.NewReader(poolJSON))
	require.NoError(t, err)
	ercABI, err := abi.JSON(strings.NewReader(erc20JSON))
	require.NoError(t, err)

	c := &chainStub{replies: map[common.Address]map[string][]byte{}}
	c.set(t, poolAddr, poolABI, "token0", usdc)
	c.set(t, poolAddr, poolABI, "token1", weth)
	c.set(t, poolAddr, poolABI, "fee", big.NewInt(3000))

	c.set(t, usdc, ercABI, "decimals", uint8(6))
	c.set(t, usdc, ercABI, "symbol", "USDC")
	c.set(t, usdc, ercABI, "name", "USD Coin")
	c.set(t, weth, ercABI, "decimals", uint8(18))
	c.set(t, weth, ercABI, "symbol", "WETH")
	c.set(t, weth, ercABI, "name", "Wrapped Ether")
	return c
}

func TestFetchPools(t *testing.T) {
	c := newChain(t)
	src, err := New(Config{Pools: []string{poolAddr.Hex()}}, c, nil)
	require.NoError(t, err)

	snap, err := src.FetchPools(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Pools, 1)

	pool := snap.Pools[0]
	assert.Equal(t, "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8", pool.ID)
	assert.Equal(t, DefaultDex, pool.Dex)
	assert.True(t, decimal.RequireFromString("0.003").Equal(pool.Fee))
	require.NotNil(t, pool.TokenA)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", *pool.TokenA)

	require.Len(t, snap.Tokens, 2)
	assert.Equal(t, "USDC", snap.Tokens[0].Symbol)
	assert.Equal(t, int32(6), snap.Tokens[0].Decimals)
	assert.Equal(t, int32(18), snap.Tokens[1].Decimals)
}

func TestTokenMetaIsCached(t *testing.T) {
	c := newChain(t)
	src, err := New(Config{Pools: []string{poolAddr.Hex()}}, c, nil)
	require.NoError(t, err)

	_, err = src.FetchTokens(context.Background())
	require.NoError(t, err)
	first := c.calls.Load()

	_, err = src.FetchTokens(context.Background())
	require.NoError(t, err)
	// Only the three pool calls repeat.
	assert.Equal(t, first+3, c.calls.Load())
}

func TestFetchPool(t *testing.T) {
	c := newChain(t)
	src, err := New(Config{Dex: "pancakev3", Pools: []string{poolAddr.Hex()}}, c, nil)
	require.NoError(t, err)

	snap, err := src.FetchPool(context.Background(), "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8")
	require.NoError(t, err)
	require.Len(t, snap.Pools, 1)
	assert.Equal(t, "pancakev3", snap.Pools[0].Dex)

	_, err = src.FetchPool(context.Background(), weth.Hex())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = src.FetchPool(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFetchFailureIsUpstream(t *testing.T) {
	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	src, err := New(Config{Pools: []string{other.Hex()}}, newChain(t), nil)
	require.NoError(t, err)

	_, err = src.FetchPools(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Pools: []string{"0x12"}}, newChain(t), nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = New(Config{}, nil, nil)
	assert.Error(t, err)
}
