package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/event"
)

// maxUploadMemory bounds the in-memory part of multipart parsing, larger
// file parts spill to disk.
const maxUploadMemory = 10 << 20

// eventForm holds the multipart form fields for creating an event. The
// image file travels separately as the "image" part.
type eventForm struct {
	Title       string `schema:"title"`
	Description string `schema:"description"`
	Date        string `schema:"date"`
	Time        string `schema:"time"`
	Location    string `schema:"location"`
	Category    string `schema:"category"`
	Capacity    int    `schema:"capacity"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Events.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}

	s.respond(w, http.StatusOK, events)
}

func (s *Server) myEvents(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	events, err := s.deps.Events.ListByCreator(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch user events")
		return
	}

	s.respond(w, http.StatusOK, events)
}

func (s *Server) searchEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Events.Search(r.Context(), r.PathValue("query"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to search events")
		return
	}

	s.respond(w, http.StatusOK, events)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Event not found")
		return
	}

	e, err := s.deps.Events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errorz.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "Event not found")
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, e)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to create event: invalid form")
		return
	}

	var form eventForm
	if err := s.decoder.Decode(&form, r.PostForm); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to create event: invalid form")
		return
	}

	date, err := parseDate(form.Date)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid date format")
		return
	}

	in := event.Input{
		Title:       form.Title,
		Description: form.Description,
		Date:        date,
		Time:        form.Time,
		Location:    form.Location,
		Category:    form.Category,
		Capacity:    form.Capacity,
	}

	if _, header, err := r.FormFile("image"); err == nil {
		url, err := s.deps.Images.Save(header)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Failed to create event: "+err.Error())
			return
		}
		in.ImageURL = url
	}

	e, err := s.deps.Events.Create(r.Context(), claims.UserID, in)
	if err != nil {
		var invalidInput errorz.InvalidInput
		if errors.As(err, &invalidInput) {
			s.respondError(w, http.StatusBadRequest, "Failed to create event: "+invalidInput.Error())
			return
		}
		s.handleError(w, r, err)
		return
	}

	s.respond(w, http.StatusCreated, e)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Event not found")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to update event: invalid form")
		return
	}

	// Absent or empty fields are left unchanged.
	var up event.Update
	if v := r.PostFormValue("title"); v != "" {
		up.Title = &v
	}
	if v := r.PostFormValue("description"); v != "" {
		up.Description = &v
	}
	if v := r.PostFormValue("date"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid date format")
			return
		}
		up.Date = &date
	}
	if v := r.PostFormValue("time"); v != "" {
		up.Time = &v
	}
	if v := r.PostFormValue("location"); v != "" {
		up.Location = &v
	}
	if v := r.PostFormValue("category"); v != "" {
		up.Category = &v
	}
	if v := r.PostFormValue("capacity"); v != "" {
		capacity, err := strconv.Atoi(v)
		if err != nil || capacity < 1 {
			s.respondError(w, http.StatusBadRequest, "Invalid capacity")
			return
		}
		up.Capacity = &capacity
	}

	if _, header, err := r.FormFile("image"); err == nil {
		url, err := s.deps.Images.Save(header)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Failed to update event: "+err.Error())
			return
		}
		up.ImageURL = &url
	}

	e, err := s.deps.Events.Update(r.Context(), claims.UserID, id, up)
	if err != nil {
		var capErr event.CapacityBelowAttendanceError
		switch {
		case errors.Is(err, errorz.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "Event not found")
		case errors.Is(err, event.ErrNotOwner):
			s.respondError(w, http.StatusForbidden, "Not authorized to edit this event")
		case errors.As(err, &capErr):
			s.respondError(w, http.StatusBadRequest, "Capacity cannot be less than current attendees ("+strconv.Itoa(capErr.Attendees)+")")
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.respond(w, http.StatusOK, e)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Event not found")
		return
	}

	if err := s.deps.Events.Delete(r.Context(), claims.UserID, id); err != nil {
		switch {
		case errors.Is(err, errorz.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "Event not found")
		case errors.Is(err, event.ErrNotOwner):
			s.respondError(w, http.StatusForbidden, "Not authorized to delete this event")
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.respond(w, http.StatusOK, map[string]string{"message": "Event deleted successfully"})
}

func (s *Server) joinEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Event not found")
		return
	}

	e, err := s.deps.Events.Join(r.Context(), id, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, errorz.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "Event not found")
		case errors.Is(err, event.ErrCapacityFull):
			s.respondError(w, http.StatusBadRequest, "Event is at full capacity")
		case errors.Is(err, event.ErrAlreadyJoined):
			s.respondError(w, http.StatusBadRequest, "Already RSVPed to this event")
		case errors.Is(err, event.ErrSelfRSVP):
			s.respondError(w, http.StatusBadRequest, "Cannot RSVP to your own event")
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.respond(w, http.StatusOK, struct {
		Message string          `json:"message"`
		Event   event.Populated `json:"event"`
	}{
		Message: "Successfully RSVPed to event",
		Event:   e,
	})
}

func (s *Server) leaveEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromCtx(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Event not found")
		return
	}

	if err := s.deps.Events.Leave(r.Context(), id, claims.UserID); err != nil {
		switch {
		case errors.Is(err, errorz.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "Event not found")
		case errors.Is(err, event.ErrNotJoined):
			s.respondError(w, http.StatusBadRequest, "You have not RSVPed to this event")
		default:
			s.handleError(w, r, err)
		}
		return
	}

	s.respond(w, http.StatusOK, map[string]string{"message": "RSVP cancelled successfully"})
}

// parseDate accepts both full timestamps and bare dates.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.New("unsupported date format")
}
