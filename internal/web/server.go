// Package web exposes the application over a JSON HTTP API.
package web

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/event"
	"github.com/eventflow/eventflow/internal/tokens"
)

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger *slog.Logger
	Auth   *auth.Service
	Events *event.Service
	Tokens *tokens.Service
	Images ImageStore
	// DB is only used by the health endpoint to report connectivity.
	DB *sql.DB
}

// ServerConfig is the configuration for the server.
type ServerConfig struct {
	// SecureCookie marks the refresh token cookie as https-only.
	SecureCookie bool
}

type Server struct {
	deps    *ServerDeps
	cfg     ServerConfig
	mux     *http.ServeMux
	decoder *schema.Decoder
}

func NewServer(deps *ServerDeps, cfg ServerConfig) *Server {
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		mux:     http.NewServeMux(),
		decoder: schema.NewDecoder(),
	}

	s.decoder.IgnoreUnknownKeys(true)

	s.mux.HandleFunc("GET /api/health", s.health)

	// Signup flow.
	s.mux.HandleFunc("GET /api/check-username", s.checkUserName)
	s.mux.HandleFunc("GET /api/check-email", s.checkEmail)
	s.mux.HandleFunc("POST /api/verify-email", s.sendVerificationCode)
	s.mux.HandleFunc("POST /api/verify-code", s.verifyCode)
	s.mux.HandleFunc("POST /signup", s.signup)

	// Sessions.
	s.mux.HandleFunc("POST /login", s.login)
	s.mux.HandleFunc("POST /refresh-token", s.refreshToken)
	s.mux.HandleFunc("POST /logout", s.logout)
	s.mux.HandleFunc("POST /update-password", s.updatePassword)
	s.mux.Handle("GET /api/auth/me", s.loggedIn(s.me))

	// Events.
	s.mux.HandleFunc("GET /api/events", s.listEvents)
	s.mux.Handle("GET /api/events/my-events", s.loggedIn(s.myEvents))
	s.mux.HandleFunc("GET /api/events/search/{query}", s.searchEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.getEvent)
	s.mux.Handle("POST /api/events", s.loggedIn(s.createEvent))
	s.mux.Handle("PUT /api/events/{id}", s.loggedIn(s.updateEvent))
	s.mux.Handle("DELETE /api/events/{id}", s.loggedIn(s.deleteEvent))
	s.mux.HandleFunc("GET /api/event-categories", s.categories)

	// RSVPs.
	s.mux.Handle("POST /api/events/{id}/rsvp", s.loggedIn(s.joinEvent))
	s.mux.Handle("DELETE /api/events/{id}/rsvp", s.loggedIn(s.leaveEvent))

	// Uploaded event images.
	if dir, ok := deps.Images.(interface{ Dir() string }); ok {
		s.mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(dir.Dir()))))
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := s.deps.DB.PingContext(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	s.respond(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"dbStatus":  dbStatus,
	})
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, event.Categories)
}

// handleError is the fallback for errors without an endpoint-specific
// response shape.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errorz.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Not found")
		return
	}

	var invalidInput errorz.InvalidInput
	if errors.As(err, &invalidInput) {
		s.respondError(w, http.StatusBadRequest, invalidInput.Error())
		return
	}

	s.deps.Logger.Error("internal server error", "url", r.URL.String(), "error", err)
	s.respondError(w, http.StatusInternalServerError, "Something went wrong!")
}
