package types

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a yoctoNEAR decimal string into a big integer. Some
// contract payloads carry a fractional part; it is truncated since amounts
// below one yocto are not representable on chain. An empty string parses
// as zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		s = s[:dot]
	}
	if s == "" || s == "-" {
		return new(big.Int), nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
