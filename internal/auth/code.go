package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/eventflow/eventflow/internal/email"
)

// CodePurpose distinguishes the flows a verification code can be issued for.
// Codes issued for one purpose never verify for another, even for the same
// email address.
type CodePurpose string

const (
	PurposeVerifyEmail    CodePurpose = "VERIFY_EMAIL"
	PurposeForgotPassword CodePurpose = "FORGOT_PASSWORD"
)

var ErrUnknownPurpose = errors.New("unknown verification purpose")

// ParseCodePurpose parses raw client input into a known purpose.
func ParseCodePurpose(raw string) (CodePurpose, error) {
	switch p := CodePurpose(raw); p {
	case PurposeVerifyEmail, PurposeForgotPassword:
		return p, nil
	}

	return "", ErrUnknownPurpose
}

var (
	ErrCodeExpired  = errors.New("code expired or invalid")
	ErrCodeMismatch = errors.New("invalid verification code")
)

type codeKey struct {
	purpose CodePurpose
	addr    email.Address
}

// CodeCache holds short-lived verification codes in memory. Codes are keyed
// by purpose and email address, so a fresh code for the same key overwrites
// the previous one. Entries expire after the configured TTL.
type CodeCache struct {
	entries *expirable.LRU[codeKey, string]
}

// NewCodeCache creates a cache whose codes expire after ttl.
func NewCodeCache(ttl time.Duration, maxEntries int) *CodeCache {
	return &CodeCache{
		entries: expirable.NewLRU[codeKey, string](maxEntries, nil, ttl),
	}
}

// Issue generates a new 6 digit code for the purpose and address. Any code
// previously issued for the same purpose and address is invalidated.
func (c *CodeCache) Issue(purpose CodePurpose, addr email.Address) (string, error) {
	// 100000..999999, uniform.
	n, err := rand.Int(rand.Reader, big.NewInt(900_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	code := fmt.Sprintf("%06d", n.Int64()+100_000)
	c.entries.Add(codeKey{purpose: purpose, addr: addr}, code)

	return code, nil
}

// Verify checks the provided code against the one issued for the purpose and
// address. A matching code is consumed and cannot be used again. A mismatch
// leaves the issued code in place, so a typo does not force the user to
// request a new code.
func (c *CodeCache) Verify(purpose CodePurpose, addr email.Address, code string) error {
	key := codeKey{purpose: purpose, addr: addr}

	want, ok := c.entries.Get(key)
	if !ok {
		return ErrCodeExpired
	}

	if want != code {
		return ErrCodeMismatch
	}

	c.entries.Remove(key)

	return nil
}
