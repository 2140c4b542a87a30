// Package tokens issues and verifies the JWT access and refresh tokens
// that authenticate API requests.
package tokens

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/krypto"
)

var (
	// ErrMissingToken indicates no token was provided.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken indicates a token failed signature or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims are the claims carried by an access token. Refresh tokens only
// carry the user ID.
type Claims struct {
	UserID   uuid.UUID     `json:"id"`
	UserName string        `json:"username,omitempty"`
	Email    email.Address `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config is the configuration for the token service.
type Config struct {
	AccessKey  krypto.Key
	RefreshKey krypto.Key
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service signs and verifies access and refresh tokens. Access tokens are
// short-lived and stateless. Refresh tokens are longer-lived; callers are
// responsible for persisting their hash (see Hash).
type Service struct {
	cfg Config

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.AccessKey.IsZero() || cfg.RefreshKey.IsZero() {
		return nil, errors.New("token signing keys are required")
	}

	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &Service{
		cfg:     cfg,
		NowFunc: time.Now,
	}, nil
}

// IssueAccessToken signs a token containing the user's id, username and
// email address. It has no side effects.
func (s *Service) IssueAccessToken(userID uuid.UUID, userName string, addr email.Address) (string, error) {
	now := s.NowFunc()

	claims := Claims{
		UserID:   userID,
		UserName: userName,
		Email:    addr,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.AccessKey.SecretValue())
}

// IssueRefreshToken signs a token containing only the user's id. It has no
// side effects, the caller is responsible for persisting its hash.
//
// Each token carries a unique jti. JWT timestamps have second resolution,
// so without it two tokens issued in the same second would be identical
// and hash to the same stored value.
func (s *Service) IssueRefreshToken(userID uuid.UUID) (string, error) {
	now := s.NowFunc()

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.RefreshKey.SecretValue())
}

// VerifyAccess checks the signature and expiry of an access token and
// returns its claims.
func (s *Service) VerifyAccess(raw string) (Claims, error) {
	return s.verify(raw, s.cfg.AccessKey)
}

// VerifyRefresh checks the signature and expiry of a refresh token and
// returns the user ID it was issued to.
func (s *Service) VerifyRefresh(raw string) (uuid.UUID, error) {
	claims, err := s.verify(raw, s.cfg.RefreshKey)
	if err != nil {
		return uuid.Nil, err
	}

	return claims.UserID, nil
}

func (s *Service) verify(raw string, key krypto.Key) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) {
			return key.SecretValue(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.NowFunc),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.UserID == uuid.Nil {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Hash returns the hex encoded sha256 hash of a raw token. The hash is
// deterministic so it can double as an equality lookup key, raw tokens are
// never persisted.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
