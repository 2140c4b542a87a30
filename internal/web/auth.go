package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/tokens"
)

const refreshCookieName = "refreshToken"

type ctxKey int

const claimsCtxKey ctxKey = 0

// loggedIn requires a valid bearer access token on the request and makes
// its claims available via claimsFromCtx.
func (s *Server) loggedIn(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.respondError(w, http.StatusUnauthorized, "Access token required")
			return
		}

		claims, err := s.deps.Tokens.VerifyAccess(raw)
		if err != nil {
			s.respondError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
		next(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}

	return raw
}

func claimsFromCtx(ctx context.Context) (tokens.Claims, error) {
	claims, ok := ctx.Value(claimsCtxKey).(tokens.Claims)
	if !ok {
		return tokens.Claims{}, errors.New("no claims in context")
	}

	return claims, nil
}

// userPayload is the user shape returned by the auth endpoints. Password
// and refresh token hashes never leave the server.
type userPayload struct {
	ID         uuid.UUID     `json:"id"`
	FirstName  string        `json:"firstName"`
	LastName   string        `json:"lastName"`
	Email      email.Address `json:"email"`
	UserName   string        `json:"userName"`
	IsVerified bool          `json:"isVerified"`
	CreatedAt  time.Time     `json:"createdAt"`
}

func toUserPayload(u auth.User) userPayload {
	return userPayload{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		UserName:   u.UserName,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		UserName  string `json:"userName"`
		Password  string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "All fields are required"})
		return
	}

	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.UserName == "" || in.Password == "" {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "All fields are required"})
		return
	}

	addr, err := email.ParseAddress(in.Email)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Invalid email address"})
		return
	}

	password, err := auth.ParsePassword(in.Password)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: err.Error()})
		return
	}

	_, err = s.deps.Auth.RegisterUser(r.Context(), auth.Registration{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     addr,
		UserName:  in.UserName,
		Password:  password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUser) {
			s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "User already exists with this email or username"})
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.respondStatus(w, http.StatusOK, statusResponse{
		Success: true,
		Message: "Account created successfully! Redirecting to login...",
		Type:    "account_created",
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Identifier == "" || in.Password == "" {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Email/username and password are required"})
		return
	}

	password, err := auth.ParsePassword(in.Password)
	if err != nil {
		// A password outside the length bounds can never match a stored
		// hash, report it the same way as a mismatch.
		s.respondStatus(w, http.StatusUnauthorized, statusResponse{Message: "Invalid credentials", Type: "login"})
		return
	}

	user, pair, err := s.deps.Auth.Login(r.Context(), auth.Credentials{
		Identifier: in.Identifier,
		Password:   password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoSuchUser):
			s.respondStatus(w, http.StatusNotFound, statusResponse{Message: "Invalid credentials", Type: "login"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.respondStatus(w, http.StatusUnauthorized, statusResponse{Message: "Invalid credentials", Type: "login"})
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.setRefreshCookie(w, pair.Refresh)

	s.respond(w, http.StatusOK, struct {
		Success     bool        `json:"success"`
		AccessToken string      `json:"accessToken"`
		Message     string      `json:"message"`
		User        userPayload `json:"user"`
	}{
		Success:     true,
		AccessToken: pair.Access,
		Message:     "Login successful",
		User:        toUserPayload(user),
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	access, err := s.deps.Auth.RotateRefresh(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, tokens.ErrInvalidToken):
			w.WriteHeader(http.StatusForbidden)
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.respond(w, http.StatusOK, struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"accessToken"`
	}{
		Success:     true,
		AccessToken: access,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if err := s.deps.Auth.Logout(r.Context(), cookie.Value); err != nil {
			s.handleError(w, r, err)
			return
		}
	}

	s.clearRefreshCookie(w)

	s.respondStatus(w, http.StatusOK, statusResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Email == "" || in.NewPassword == "" {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Email and new password are required"})
		return
	}

	addr, err := email.ParseAddress(in.Email)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Invalid email address"})
		return
	}

	password, err := auth.ParsePassword(in.NewPassword)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: err.Error()})
		return
	}

	if err := s.deps.Auth.UpdatePassword(r.Context(), addr, password); err != nil {
		s.handleError(w, r, err)
		return
	}

	s.respondStatus(w, http.StatusOK, statusResponse{
		Success: true,
		Message: "Password updated successfully",
		Type:    "UPDATED_PASSWORD",
	})
}

func (s *Server) sendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Type      string `json:"type"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Email == "" || in.Type == "" {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Email and type are required"})
		return
	}

	purpose, err := auth.ParseCodePurpose(in.Type)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Unknown verification type"})
		return
	}

	addr, err := email.ParseAddress(in.Email)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Invalid email address"})
		return
	}

	err = s.deps.Auth.SendCode(r.Context(), auth.CodeRequest{
		Purpose:   purpose,
		Email:     addr,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUser) {
			s.respondStatus(w, http.StatusBadRequest, statusResponse{
				Message: "Email already registered",
				Type:    string(purpose),
			})
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.respondStatus(w, http.StatusOK, statusResponse{
		Success: true,
		Message: "Verification code sent successfully. Check your inbox.",
		Type:    string(purpose),
	})
}

func (s *Server) verifyCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Code  string `json:"code"`
		Type  string `json:"type"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Email == "" || in.Code == "" || in.Type == "" {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Email, code, and type are required"})
		return
	}

	purpose, err := auth.ParseCodePurpose(in.Type)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Unknown verification type"})
		return
	}

	addr, err := email.ParseAddress(in.Email)
	if err != nil {
		s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Invalid email address"})
		return
	}

	if err := s.deps.Auth.VerifyCode(purpose, addr, in.Code); err != nil {
		switch {
		case errors.Is(err, auth.ErrCodeExpired):
			s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Code expired or invalid"})
		case errors.Is(err, auth.ErrCodeMismatch):
			s.respondStatus(w, http.StatusBadRequest, statusResponse{Message: "Invalid verification code"})
		default:
			s.handleError(w, r, err)
		}
		return
	}

	msg := "Code verified successfully!"
	if purpose == auth.PurposeVerifyEmail {
		msg = "Email verified successfully!"
	}

	s.respondStatus(w, http.StatusOK, statusResponse{
		Success: true,
		Message: msg,
		Type:    string(purpose),
	})
}

func (s *Server) checkUserName(w http.ResponseWriter, r *http.Request) {
	exists, err := s.deps.Auth.UserNameTaken(r.Context(), r.URL.Query().Get("userName"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) checkEmail(w http.ResponseWriter, r *http.Request) {
	addr, err := email.ParseAddress(r.URL.Query().Get("email"))
	if err != nil {
		s.respond(w, http.StatusOK, map[string]bool{"exists": false})
		return
	}

	exists, err := s.deps.Auth.EmailTaken(r.Context(), addr)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	user, err := s.deps.Auth.UserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNoSuchUser) {
			s.respondError(w, http.StatusNotFound, "User not found")
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    raw,
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}
