package numeric

import (
	"fmt"
	"strconv"
	"strings"

	"poolmirror/internal/apperr"
)

// SignedFromUnsignedBits reinterprets a two's-complement bit pattern
// transmitted as uint64 as the int64 it encodes.
func SignedFromUnsignedBits(bits uint64) int64 {
	return int64(bits)
}

// ParseTickBits decodes a decimal u64 string carrying signed tick bits.
func ParseTickBits(s string) (int64, error) {
	bits, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, apperr.Validation("parse tick bits", fmt.Errorf("%q: %w", s, err))
	}
	return SignedFromUnsignedBits(bits), nil
}
