// Package challenge mints the single-use k1 identifiers carried through
// the LNURL handshake. Collisions are treated as impossible at 32 random
// bytes (probability < 2⁻¹²⁸) and are never checked for.
package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Mint returns a fresh 64-char lowercase hex k1 derived from 32
// cryptographically random bytes.
func Mint() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
