package web

import (
	"encoding/json"
	"net/http"
)

// statusResponse is the envelope used by the auth endpoints.
type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

// errorResponse is the envelope used by the event endpoints.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already out, all we can do is log.
		s.deps.Logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, errorResponse{Error: msg})
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, resp statusResponse) {
	s.respond(w, status, resp)
}

// decodeJSON decodes a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
