// Package ledgerhash holds the hashing conventions shared with the ledger.
package ledgerhash

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Keccak256 returns the legacy (pre-NIST) keccak-256 digest used on-chain.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Keccak256Hex returns Keccak256 as a 0x-prefixed lower-case hex string.
func Keccak256Hex(data ...[]byte) string {
	return "0x" + hex.EncodeToString(Keccak256(data...))
}

// CategoryHash is the hash the ledger emits for a category name.
func CategoryHash(name string) string {
	return Keccak256Hex([]byte(name))
}

// EqualHex compares two hex strings ignoring case and an optional 0x prefix.
func EqualHex(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(strings.ToLower(a), "0x"), strings.TrimPrefix(strings.ToLower(b), "0x"))
}
