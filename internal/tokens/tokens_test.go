package tokens_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/krypto"
	"github.com/eventflow/eventflow/internal/tokens"
)

func serviceForTest(t *testing.T) *tokens.Service {
	t.Helper()

	svc, err := tokens.NewService(tokens.Config{
		AccessKey:  keyForTest(t, "8c4334693e6492db4473a0c8f10ca1679ee373997bbae4b5c4d0a2253e79ae04"),
		RefreshKey: keyForTest(t, "f364525496ea7a7b0b635ae02f7b9ed5c8907584f40375a2f1ef8eda21fd2e0f"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}

	return svc
}

func keyForTest(t *testing.T, raw string) krypto.Key {
	t.Helper()

	key, err := krypto.ParseKey(raw)
	if err != nil {
		t.Fatalf("failed to parse key: %v", err)
	}

	return key
}

func Test_Service_AccessTokens(t *testing.T) {
	userID := uuid.New()

	t.Run("ok, issue and verify", func(t *testing.T) {
		svc := serviceForTest(t)

		raw, err := svc.IssueAccessToken(userID, "jacob", "jacob@example.com")
		if err != nil {
			t.Fatalf("failed to issue access token: %v", err)
		}

		claims, err := svc.VerifyAccess(raw)
		if err != nil {
			t.Fatalf("failed to verify access token: %v", err)
		}

		if claims.UserID != userID {
			t.Errorf("got user id %s want %s", claims.UserID, userID)
		}
		if claims.UserName != "jacob" {
			t.Errorf("got username %s want jacob", claims.UserName)
		}
		if claims.Email != "jacob@example.com" {
			t.Errorf("got email %s want jacob@example.com", claims.Email)
		}
	})

	t.Run("fail, missing token", func(t *testing.T) {
		svc := serviceForTest(t)

		_, err := svc.VerifyAccess("")
		if !errors.Is(err, tokens.ErrMissingToken) {
			t.Fatalf("expected error to be %v got %v (via errors.Is)", tokens.ErrMissingToken, err)
		}
	})

	t.Run("fail, garbage token", func(t *testing.T) {
		svc := serviceForTest(t)

		_, err := svc.VerifyAccess("not.a.jwt")
		if !errors.Is(err, tokens.ErrInvalidToken) {
			t.Fatalf("expected error to be %v got %v (via errors.Is)", tokens.ErrInvalidToken, err)
		}
	})

	t.Run("fail, expired token", func(t *testing.T) {
		svc := serviceForTest(t)

		// Issue a token in the past, then verify it in the present.
		svc.NowFunc = func() time.Time {
			return time.Now().Add(-16 * time.Minute)
		}

		raw, err := svc.IssueAccessToken(userID, "jacob", "jacob@example.com")
		if err != nil {
			t.Fatalf("failed to issue access token: %v", err)
		}

		svc.NowFunc = time.Now

		_, err = svc.VerifyAccess(raw)
		if !errors.Is(err, tokens.ErrInvalidToken) {
			t.Fatalf("expected error to be %v got %v (via errors.Is)", tokens.ErrInvalidToken, err)
		}
	})

	t.Run("fail, refresh token is not an access token", func(t *testing.T) {
		svc := serviceForTest(t)

		raw, err := svc.IssueRefreshToken(userID)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		// Signed with a different key, verification should fail.
		_, err = svc.VerifyAccess(raw)
		if !errors.Is(err, tokens.ErrInvalidToken) {
			t.Fatalf("expected error to be %v got %v (via errors.Is)", tokens.ErrInvalidToken, err)
		}
	})
}

func Test_Service_RefreshTokens(t *testing.T) {
	userID := uuid.New()

	t.Run("ok, issue and verify", func(t *testing.T) {
		svc := serviceForTest(t)

		raw, err := svc.IssueRefreshToken(userID)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		got, err := svc.VerifyRefresh(raw)
		if err != nil {
			t.Fatalf("failed to verify refresh token: %v", err)
		}

		if got != userID {
			t.Errorf("got user id %s want %s", got, userID)
		}
	})

	t.Run("ok, tokens issued at the same time are distinct", func(t *testing.T) {
		svc := serviceForTest(t)

		// JWT timestamps have second resolution. Pin the clock so both
		// tokens share iat and exp, only the jti may differ.
		now := time.Now()
		svc.NowFunc = func() time.Time {
			return now
		}

		first, err := svc.IssueRefreshToken(userID)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		second, err := svc.IssueRefreshToken(userID)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		if first == second {
			t.Errorf("expected distinct tokens, both were %s", first)
		}

		if tokens.Hash(first) == tokens.Hash(second) {
			t.Errorf("expected distinct token hashes")
		}
	})

	t.Run("fail, tampered token", func(t *testing.T) {
		svc := serviceForTest(t)

		raw, err := svc.IssueRefreshToken(userID)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		tampered := raw[:len(raw)-2] + "xx"

		_, err = svc.VerifyRefresh(tampered)
		if !errors.Is(err, tokens.ErrInvalidToken) {
			t.Fatalf("expected error to be %v got %v (via errors.Is)", tokens.ErrInvalidToken, err)
		}
	})
}

func Test_Hash(t *testing.T) {
	// The hash doubles as a database lookup key, so it must be deterministic.
	if tokens.Hash("abc") != tokens.Hash("abc") {
		t.Errorf("expected equal inputs to produce equal hashes")
	}

	if tokens.Hash("abc") == tokens.Hash("abd") {
		t.Errorf("expected different inputs to produce different hashes")
	}

	if len(tokens.Hash("abc")) != 64 {
		t.Errorf("expected hex encoded sha256 hash of length 64")
	}
}
