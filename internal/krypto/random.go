package krypto

import (
	"crypto/rand"
	"fmt"
)

// ReadRandom fills buf with cryptographically secure random bytes.
func ReadRandom(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to read random bytes: %w", err)
	}

	return nil
}
