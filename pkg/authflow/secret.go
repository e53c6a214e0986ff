package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/latchflow/core/pkg/canonicalize"
)

// generateOpaqueToken returns a URL-safe random token: 32 CSPRNG bytes as
// unpadded base64url, via the shared canonicalize token generator.
func generateOpaqueToken(int) (string, error) {
	return canonicalize.NewToken()
}

// hashToken returns the hex-encoded SHA-256 digest of token, the form
// persisted for sessions and API tokens so the store never holds a
// verifiable bearer secret at rest.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// secureEqual compares two hex digests in constant time.
func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// generateNumericCode returns an n-digit numeric OTP via the shared
// canonicalize generator.
func generateNumericCode(digits int) (string, error) {
	return canonicalize.NewOTP(digits)
}

// generateUserCode returns a short human-typeable device-pairing code
// (e.g. "WXYZ-1234"), grouped for readability.
func generateUserCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789" // excludes ambiguous chars
	buf := make([]byte, 8)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("authflow: generate user code: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf[:4]) + "-" + string(buf[4:]), nil
}
