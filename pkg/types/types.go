package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// KittyIndex identifies one kitty. Indices are allocated from zero upwards and never reused.
type KittyIndex uint32

// Kitty is the 16-byte genome of a kitty. It never changes once stored.
type Kitty [16]byte

func (k Kitty) String() string {
	return hex.EncodeToString(k[:])
}

// AccountID is the opaque identity of a caller or owner.
type AccountID [32]byte

func (a AccountID) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 hex characters, for logs.
func (a AccountID) Short() string {
	return hex.EncodeToString(a[:4])
}

// ParseAccountID decodes a 64 character hex string, with or without 0x prefix.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("account id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Balance is an unsigned 128-bit little-endian amount.
type Balance [16]byte

func NewBalance(v uint64) Balance {
	var b Balance
	binary.LittleEndian.PutUint64(b[:8], v)
	return b
}

// ParseBalance parses a decimal amount that fits in 128 bits.
func ParseBalance(s string) (Balance, error) {
	var b Balance
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return b, fmt.Errorf("invalid balance %q", s)
	}
	be := n.FillBytes(make([]byte, 16))
	for i := range be {
		b[i] = be[len(be)-1-i]
	}
	return b, nil
}

func (b Balance) String() string {
	be := make([]byte, len(b))
	for i := range b {
		be[i] = b[len(b)-1-i]
	}
	return new(big.Int).SetBytes(be).String()
}
