// Package event provides event management and the RSVP rules that guard
// event capacity.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/errorz"
)

var (
	ErrNotOwner      = errors.New("not the event owner")
	ErrCapacityFull  = errors.New("event is at full capacity")
	ErrAlreadyJoined = errors.New("already joined this event")
	ErrSelfRSVP      = errors.New("cannot join your own event")
	ErrNotJoined     = errors.New("not joined this event")
)

// CapacityBelowAttendanceError is returned when an owner attempts to lower
// the capacity of an event below its current attendee count.
type CapacityBelowAttendanceError struct {
	Attendees int
}

func (e CapacityBelowAttendanceError) Error() string {
	return fmt.Sprintf("capacity cannot be lower than the current number of attendees (%d)", e.Attendees)
}

// Event contains the data for an event. Attendees holds the IDs of the
// users that joined, in join order. The owner (CreatedBy) is never an
// attendee, and len(Attendees) never exceeds Capacity.
type Event struct {
	ID          uuid.UUID
	Title       string
	Description string
	Date        time.Time
	Time        string
	Location    string
	Category    string
	Capacity    int
	ImageURL    string
	CreatedBy   uuid.UUID
	Attendees   []uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Event) hasAttendee(userID uuid.UUID) bool {
	for _, id := range e.Attendees {
		if id == userID {
			return true
		}
	}

	return false
}

// Input is the data needed to create a new event.
type Input struct {
	Title       string
	Description string
	Date        time.Time
	Time        string
	Location    string
	Category    string
	Capacity    int
	ImageURL    string
}

func (in Input) validate() error {
	var errs []error

	if in.Title == "" {
		errs = append(errs, errorz.Keyed{Key: "title", Err: errors.New("title is required")})
	}

	if in.Description == "" {
		errs = append(errs, errorz.Keyed{Key: "description", Err: errors.New("description is required")})
	}

	if in.Date.IsZero() {
		errs = append(errs, errorz.Keyed{Key: "date", Err: errors.New("date is required")})
	}

	if in.Time == "" {
		errs = append(errs, errorz.Keyed{Key: "time", Err: errors.New("time is required")})
	}

	if in.Location == "" {
		errs = append(errs, errorz.Keyed{Key: "location", Err: errors.New("location is required")})
	}

	if in.Category == "" {
		errs = append(errs, errorz.Keyed{Key: "category", Err: errors.New("category is required")})
	}

	if in.Capacity < 1 {
		errs = append(errs, errorz.Keyed{Key: "capacity", Err: errors.New("capacity must be at least 1")})
	}

	if len(errs) > 0 {
		return errorz.InvalidInput(errs)
	}

	return nil
}

// Update modifies a subset of an event's fields. Nil fields are left
// unchanged. CreatedBy and the attendee set cannot be modified this way.
type Update struct {
	Title       *string
	Description *string
	Date        *time.Time
	Time        *string
	Location    *string
	Category    *string
	Capacity    *int
	ImageURL    *string
}

// UserRef is a denormalized reference to a user, embedded in populated
// events. The email address is only filled in for event owners.
type UserRef struct {
	ID        uuid.UUID     `json:"id"`
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	UserName  string        `json:"userName"`
	Email     email.Address `json:"email,omitempty"`
}

// Populated is an event with its user references resolved, ready to be
// serialized in responses.
type Populated struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time"`
	Location    string    `json:"location"`
	Category    string    `json:"category"`
	Capacity    int       `json:"capacity"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedBy   UserRef   `json:"createdBy"`
	Attendees   []UserRef `json:"attendees"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
