package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolmirror/internal/chain"
)

// PoolMeta is the immutable part of a V3 pool that the mirror stores.
type PoolMeta struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
	Name     string
}

// MetaCache caches immutable metadata by address.
type MetaCache[T any] struct {
	mu   sync.RWMutex
	data map[common.Address]T
}

func NewMetaCache[T any]() *MetaCache[T] {
	return &MetaCache[T]{data: make(map[common.Address]T)}
}

func (c *MetaCache[T]) Get(address common.Address) (T, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache[T]) Set(address common.Address, meta T) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// FetchPoolMeta loads token0, token1 and fee.
func FetchPoolMeta(ctx context.Context, caller chain.Caller, pool common.Address) (PoolMeta, error) {
	if caller == nil {
		return PoolMeta{}, fmt.Errorf("chain client is nil")
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callMethod(ctx, caller, pool, poolABI, "token0")
	if err != nil {
		return PoolMeta{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return PoolMeta{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, poolABI, "token1")
	if err != nil {
		return PoolMeta{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return PoolMeta{}, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, poolABI, "fee")
	if err != nil {
		return PoolMeta{}, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return PoolMeta{}, fmt.Errorf("fee: %w", err)
	}
	if !feeInt.IsUint64() || feeInt.Uint64() > 1<<24-1 {
		return PoolMeta{}, fmt.Errorf("fee out of uint24 range: %s", feeInt.String())
	}

	return PoolMeta{
		Token0: token0,
		Token1: token1,
		Fee:    uint32(feeInt.Uint64()),
	}, nil
}

func callMethod(ctx context.Context, caller chain.Caller, to common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: no values", method)
	}
	return values, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls. Tokens returning
// bytes32 for symbol or name are handled.
func FetchTokenMeta(ctx context.Context, caller chain.Caller, token common.Address, logger *zap.Logger) (TokenMeta, error) {
	meta := TokenMeta{Address: token}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := ERC20Bytes32ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	meta.Symbol = readText(ctx, caller, token, stringABI, bytes32ABI, "symbol", logger)
	meta.Name = readText(ctx, caller, token, stringABI, bytes32ABI, "name", logger)

	return meta, nil
}

func readText(ctx context.Context, caller chain.Caller, token common.Address, stringABI, bytes32ABI abi.ABI, method string, logger *zap.Logger) string {
	if values, err := callMethod(ctx, caller, token, stringABI, method); err == nil {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	values, err := callMethod(ctx, caller, token, bytes32ABI, method)
	if err == nil {
		if s, ok := bytes32ToString(values[0]); ok {
			return s
		}
	}
	logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
	return ""
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
