package canonicalize

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// NewToken returns 32 CSPRNG bytes encoded as unpadded base64url, suitable
// for session cookies, magic-link tokens, and device codes. Only the
// SHA-256 hash of the returned value is ever persisted; the plaintext is
// handed to the caller once.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("canonicalize: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewOTP returns a zero-padded decimal string of length digits, drawn from a
// CSPRNG. It is not required to be perfectly uniform but must
// not use a non-cryptographic source.
func NewOTP(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("canonicalize: generate otp: %w", err)
	}
	s := n.String()
	if pad := digits - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}
