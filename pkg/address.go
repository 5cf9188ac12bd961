package feed

import (
	"encoding/hex"
	"strings"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// Address is an account address in canonical form: "0x" followed by
// 40 lower-case hex digits. Agents (transaction signers) and avatars
// (sub-accounts owned by an agent) share the same address space.
type Address string

// ParseAddress accepts an address with or without the 0x prefix, in any
// letter case, and returns it in canonical form.
func ParseAddress(s string) (Address, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h) != AddressLength*2 {
		return "", NewErr(BadRequest, "invalid address length: %q", s)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", NewErr(BadRequest, "invalid address hex: %q", s)
	}
	return Address("0x" + strings.ToLower(h)), nil
}

// AddressFromBytes converts a raw 20-byte address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return "", NewErr(Malformed, "address must be %d bytes, got %d", AddressLength, len(b))
	}
	return Address("0x" + hex.EncodeToString(b)), nil
}

// Bytes returns the raw address bytes; nil if the address is not canonical.
func (a Address) Bytes() []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(string(a), "0x"))
	if err != nil || len(b) != AddressLength {
		return nil
	}
	return b
}

func (a Address) String() string {
	return string(a)
}
