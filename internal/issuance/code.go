package issuance

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet is Crockford-style base32: no I, L, O or U, so codes survive
// being read aloud or retyped from print.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// CodeLength at 25 base32 characters carries about 125 bits of entropy. The
// birthday collision probability across 10^9 documents stays far below
// 1e-15; the storage unique constraint is the backstop, not the guarantee.
const CodeLength = 25

// NewVerificationCode draws a fresh code from crypto/rand.
func NewVerificationCode() (string, error) {
	raw := make([]byte, CodeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range raw {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
