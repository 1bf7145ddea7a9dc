package dex

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// View methods read from a V3 pool when mirroring it.
const v3PoolViewJSON = `[
  {"inputs": [], "name": "token0", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"type": "uint24"}], "stateMutability": "view", "type": "function"}
]`

// Some older tokens (MKR, SAI) return bytes32 for symbol and name.
const erc20StringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

const erc20Bytes32JSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

// lazyABI parses its JSON once on first use.
type lazyABI struct {
	src    string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.src))
	})
	return l.parsed, l.err
}

var (
	v3PoolView   = &lazyABI{src: v3PoolViewJSON}
	erc20String  = &lazyABI{src: erc20StringJSON}
	erc20Bytes32 = &lazyABI{src: erc20Bytes32JSON}
)

// V3PoolABI returns the parsed view surface of a V3 pool.
func V3PoolABI() (abi.ABI, error) { return v3PoolView.get() }

// ERC20ABI returns the standard token metadata surface.
func ERC20ABI() (abi.ABI, error) { return erc20String.get() }

// ERC20Bytes32ABI returns the metadata surface of tokens with bytes32 text fields.
func ERC20Bytes32ABI() (abi.ABI, error) { return erc20Bytes32.get() }
