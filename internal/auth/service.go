package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/krypto"
	"github.com/eventflow/eventflow/internal/tokens"
)

var (
	ErrDuplicateUser      = errors.New("duplicate user")
	ErrNoSuchUser         = errors.New("no such user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// Emailer is used to send templated emails.
type Emailer interface {
	Send(ctx context.Context, template string, to email.Address, data any) error
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	Access  string
	Refresh string
}

// Service is the type that provides the main rules for authentication.
type Service struct {
	store   Store
	codes   *CodeCache
	tokens  *tokens.Service
	emailer Emailer

	// comparisonHash is used to compare passwords when no user was found.
	comparisonHash krypto.Argon2Hash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store, codes *CodeCache, tokenSvc *tokens.Service, emailer Emailer) (*Service, error) {
	var random [32]byte
	if err := krypto.ReadRandom(random[:]); err != nil {
		return nil, err
	}

	hash, err := krypto.HashArgon2(random[:])
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:          s,
		codes:          codes,
		tokens:         tokenSvc,
		emailer:        emailer,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}

	return svc, nil
}

// RegisterUser creates a new account for the provided registration.
// The account is created verified: the email verification step happens
// before signup via SendCode/VerifyCode, and the client only submits the
// registration once the code check passed.
//
// If a user with the same email address or username already exists,
// ErrDuplicateUser is returned.
func (s *Service) RegisterUser(ctx context.Context, reg Registration) (User, error) {
	pwdHash, err := reg.Password.Hash()
	if err != nil {
		return User{}, err
	}

	now := s.NowFunc()

	user := User{
		ID:           uuid.New(),
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Email:        reg.Email,
		UserName:     reg.UserName,
		PasswordHash: pwdHash,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.inTx(ctx, func(tx Tx) error {
		// Check for an existing user with the same email or username.
		// The unique constraints in the store are the backstop for races.
		users, txErr := tx.FindUsers(&UserFilter{
			Identifiers: []string{string(user.Email), user.UserName},
		})
		if txErr != nil {
			return txErr
		}

		if len(users) > 0 {
			return ErrDuplicateUser
		}

		return tx.CreateUser(&user)
	})
	if err != nil {
		if errors.Is(err, errorz.ErrConstraintViolated) {
			return User{}, ErrDuplicateUser
		}
		return User{}, err
	}

	return user, nil
}

// Login checks the provided credentials and on success issues a fresh token
// pair. The hash of the new refresh token replaces any previously stored
// hash, so a login invalidates all earlier sessions for the user.
//
// ErrNoSuchUser is returned when no user matches the identifier,
// ErrInvalidCredentials when the password does not match.
func (s *Service) Login(ctx context.Context, c Credentials) (User, TokenPair, error) {
	var (
		user User
		pair TokenPair
	)

	err := s.inTx(ctx, func(tx Tx) error {
		users, txErr := tx.FindUsers(&UserFilter{
			Identifiers: []string{c.Identifier},
		})
		if txErr != nil {
			return txErr
		}

		if len(users) != 1 {
			// Even if no user is found we compare to a hash to prevent timing
			// differences that could result in user enumeration attacks.
			_ = c.Password.Match(s.comparisonHash)
			return ErrNoSuchUser
		}

		user = users[0]

		if !c.Password.Match(user.PasswordHash) {
			return ErrInvalidCredentials
		}

		access, txErr := s.tokens.IssueAccessToken(user.ID, user.UserName, user.Email)
		if txErr != nil {
			return txErr
		}

		refresh, txErr := s.tokens.IssueRefreshToken(user.ID)
		if txErr != nil {
			return txErr
		}

		refreshHash := tokens.Hash(refresh)
		user.RefreshTokenHash = &refreshHash
		user.UpdatedAt = s.NowFunc()

		if txErr := tx.UpdateUser(&user); txErr != nil {
			return txErr
		}

		pair = TokenPair{Access: access, Refresh: refresh}

		return nil
	})
	if err != nil {
		return User{}, TokenPair{}, err
	}

	return user, pair, nil
}

// RotateRefresh exchanges a raw refresh token for a fresh access token.
// The user is looked up by the hash of the raw token; ErrUnauthenticated is
// returned when no user has that hash stored. The token is then also
// verified cryptographically, so a stale value that happens to match the
// stored hash still fails with tokens.ErrInvalidToken.
//
// The refresh token itself is not rotated; it stays valid until it expires
// or the user logs in or out.
func (s *Service) RotateRefresh(ctx context.Context, rawToken string) (string, error) {
	users, err := s.store.FindUsers(ctx, &UserFilter{
		RefreshTokenHashes: []string{tokens.Hash(rawToken)},
	})
	if err != nil {
		return "", err
	}

	if len(users) != 1 {
		return "", ErrUnauthenticated
	}

	user := users[0]

	userID, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return "", err
	}

	if userID != user.ID {
		return "", tokens.ErrInvalidToken
	}

	return s.tokens.IssueAccessToken(user.ID, user.UserName, user.Email)
}

// Logout clears the stored refresh token hash for the session identified by
// the raw refresh token. An unknown token is not an error; the session it
// belonged to is gone either way.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	return s.inTx(ctx, func(tx Tx) error {
		users, err := tx.FindUsers(&UserFilter{
			RefreshTokenHashes: []string{tokens.Hash(rawToken)},
		})
		if err != nil {
			return err
		}

		if len(users) != 1 {
			return nil
		}

		user := users[0]
		user.RefreshTokenHash = nil
		user.UpdatedAt = s.NowFunc()

		return tx.UpdateUser(&user)
	})
}

// UpdatePassword replaces the password of the user with the provided email
// address. Callers are expected to have gated this behind a successful
// FORGOT_PASSWORD code verification. An unknown address is not reported as
// an error to prevent user enumeration.
func (s *Service) UpdatePassword(ctx context.Context, addr email.Address, password Password) error {
	pwdHash, err := password.Hash()
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx Tx) error {
		users, txErr := tx.FindUsers(&UserFilter{
			Emails: []email.Address{addr},
		})
		if txErr != nil {
			return txErr
		}

		if len(users) != 1 {
			return nil
		}

		user := users[0]
		user.PasswordHash = pwdHash
		user.UpdatedAt = s.NowFunc()

		return tx.UpdateUser(&user)
	})
}

// UserByID returns the user with the provided ID, or ErrNoSuchUser.
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (User, error) {
	users, err := s.store.FindUsers(ctx, &UserFilter{
		IDs: []uuid.UUID{id},
	})
	if err != nil {
		return User{}, err
	}

	if len(users) != 1 {
		return User{}, ErrNoSuchUser
	}

	return users[0], nil
}

// UsersByID returns the users with the provided IDs. Unknown IDs are
// silently omitted from the result.
func (s *Service) UsersByID(ctx context.Context, ids []uuid.UUID) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	return s.store.FindUsers(ctx, &UserFilter{IDs: ids})
}

// EmailTaken reports whether a user with the provided email address exists.
func (s *Service) EmailTaken(ctx context.Context, addr email.Address) (bool, error) {
	users, err := s.store.FindUsers(ctx, &UserFilter{
		Emails: []email.Address{addr},
	})
	if err != nil {
		return false, err
	}

	return len(users) > 0, nil
}

// UserNameTaken reports whether a user with the provided username exists.
func (s *Service) UserNameTaken(ctx context.Context, userName string) (bool, error) {
	users, err := s.store.FindUsers(ctx, &UserFilter{
		UserNames: []string{userName},
	})
	if err != nil {
		return false, err
	}

	return len(users) > 0, nil
}

// CodeRequest asks for a verification code to be sent to an email address.
// FirstName and LastName are only used to address the recipient in the
// verification email and may be empty.
type CodeRequest struct {
	Purpose   CodePurpose
	Email     email.Address
	FirstName string
	LastName  string
}

// SendCode issues a verification code for the request and emails it to the
// recipient. For the VERIFY_EMAIL purpose the address must not belong to an
// existing user; ErrDuplicateUser is returned if it does.
func (s *Service) SendCode(ctx context.Context, req CodeRequest) error {
	if req.Purpose == PurposeVerifyEmail {
		taken, err := s.EmailTaken(ctx, req.Email)
		if err != nil {
			return err
		}

		if taken {
			return ErrDuplicateUser
		}
	}

	code, err := s.codes.Issue(req.Purpose, req.Email)
	if err != nil {
		return err
	}

	// Sending could fail after the code was stored. That is acceptable; the
	// user can request a new code, which overwrites this one.
	switch req.Purpose {
	case PurposeForgotPassword:
		return s.emailer.Send(ctx, "forgot-password", req.Email, ForgotPasswordData{
			Code: code,
		})
	default:
		return s.emailer.Send(ctx, "verify-email", req.Email, VerifyEmailData{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Code:      code,
		})
	}
}

// VerifyEmailData is the template data for the verify-email email.
type VerifyEmailData struct {
	FirstName string
	LastName  string
	Code      string
}

// ForgotPasswordData is the template data for the forgot-password email.
type ForgotPasswordData struct {
	Code string
}

// VerifyCode checks a submitted code for the purpose and address.
// See CodeCache.Verify for the exact semantics.
func (s *Service) VerifyCode(purpose CodePurpose, addr email.Address, code string) error {
	return s.codes.Verify(purpose, addr, code)
}

func (s *Service) inTx(ctx context.Context, f func(tx Tx) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		rBackErr := tx.Rollback()
		if rBackErr != nil {
			err = errors.Join(err, rBackErr)
		}
		return err
	}

	return tx.Commit()
}
