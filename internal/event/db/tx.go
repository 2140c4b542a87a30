package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/event"
)

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error {
	return errorz.MapDBErr(t.tx.Commit())
}

func (t *Tx) Rollback() error {
	return errorz.MapDBErr(t.tx.Rollback())
}

// CreateEvent creates an event in the database.
func (t *Tx) CreateEvent(e *event.Event) error {
	return insertEvent(t.tx.Exec, e)
}

// UpdateEvent updates an event in the database. The attendee set is not
// touched, use AddAttendee and RemoveAttendee for that.
// It returns errorz.ErrNotFound if no event is found.
func (t *Tx) UpdateEvent(e *event.Event) error {
	return updateEvent(t.tx.Exec, e)
}

// DeleteEvent deletes an event and its attendee records.
// It returns errorz.ErrNotFound if no event is found.
func (t *Tx) DeleteEvent(id uuid.UUID) error {
	return deleteEvent(t.tx.Exec, id)
}

// FindEvents queries for events based on the provided filter.
// It returns an empty slice if no events are found.
func (t *Tx) FindEvents(filter *event.Filter) ([]event.Event, error) {
	return selectEvents(t.tx.Query, filter)
}

// AddAttendee records that a user joined an event.
// It returns errorz.ErrConstraintViolated if the user already joined.
func (t *Tx) AddAttendee(eventID, userID uuid.UUID, at time.Time) error {
	return insertAttendee(t.tx.Exec, eventID, userID, at)
}

// RemoveAttendee records that a user left an event.
// It returns errorz.ErrNotFound if the user had not joined.
func (t *Tx) RemoveAttendee(eventID, userID uuid.UUID) error {
	return deleteAttendee(t.tx.Exec, eventID, userID)
}
