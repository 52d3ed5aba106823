package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddressLength is the byte length of account and market identifiers.
const AddressLength = 20

// Address identifies an account or a market ledger within a pool.
type Address [AddressLength]byte

var errInvalidAddress = errors.New("types: invalid address")

// BytesToAddress builds an address from a byte slice, left-padding short
// input and truncating oversized input from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// ParseAddress decodes a hex-encoded address with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", errInvalidAddress, err)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("%w: want %d bytes, got %d", errInvalidAddress, AddressLength, len(raw))
	}
	return BytesToAddress(raw), nil
}

// Bytes returns a copy of the underlying bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex returns the 0x-prefixed hex encoding of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the all-zero sentinel.
func (a Address) IsZero() bool { return a == Address{} }
