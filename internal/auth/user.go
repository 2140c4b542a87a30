package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/krypto"
)

// User contains the data for a user.
type User struct {
	ID           uuid.UUID
	FirstName    string
	LastName     string
	Email        email.Address
	UserName     string
	PasswordHash krypto.Argon2Hash
	// RefreshTokenHash is the sha256 hash of the user's current refresh
	// token. It doubles as a lookup key: presenting a refresh token whose
	// hash matches this field proves the session is the current one. A nil
	// value means the user has no active session.
	RefreshTokenHash *string
	IsVerified       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Registration is the input needed to create a new account.
type Registration struct {
	FirstName string
	LastName  string
	Email     email.Address
	UserName  string
	Password  Password
}

// Credentials identify a user by email address or username plus password.
type Credentials struct {
	Identifier string
	Password   Password
}
