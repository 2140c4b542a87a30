package auth

import (
	"errors"
	"fmt"

	"github.com/eventflow/eventflow/internal/krypto"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 512
)

var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
)

// Password is a parsed plaintext password. The plaintext is kept private
// to prevent it from accidentally ending up in logs or error messages.
type Password struct {
	plaintext string
}

// ParsePassword checks the length bounds of the provided plaintext.
func ParsePassword(plaintext string) (Password, error) {
	if len(plaintext) < minPasswordLen {
		return Password{}, ErrPasswordTooShort
	}

	if len(plaintext) > maxPasswordLen {
		return Password{}, ErrPasswordTooLong
	}

	return Password{plaintext: plaintext}, nil
}

// Hash hashes the password using argon2.
func (p Password) Hash() (krypto.Argon2Hash, error) {
	return krypto.HashArgon2([]byte(p.plaintext))
}

// Match checks if the password matches the provided hash.
func (p Password) Match(hash krypto.Argon2Hash) bool {
	return hash.MatchBytes([]byte(p.plaintext))
}

func (p Password) String() string {
	return krypto.SecretMarker
}

func (p Password) Format(f fmt.State, verb rune) {
	f.Write([]byte(krypto.SecretMarker))
}

func (p Password) MarshalText() ([]byte, error) {
	return []byte(krypto.SecretMarker), nil
}
