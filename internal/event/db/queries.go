package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/db"
	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/event"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

func insertEvent(ef execFunc, e *event.Event) error {
	if e.ID == uuid.Nil || e.CreatedBy == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	var q db.Query

	q.Unsafe(`INSERT INTO events (id, title, description, date, time, location, category, capacity, image_url, created_by, created_at, updated_at) VALUES (`)
	q.Params(e.ID, e.Title, e.Description, e.Date, e.Time, e.Location, e.Category, e.Capacity, nullString(e.ImageURL), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	q.Unsafe(`)`)

	s, params := q.Get()

	_, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func updateEvent(ef execFunc, e *event.Event) error {
	var q db.Query

	q.Unsafe(`UPDATE events SET `)

	q.Unsafe(`title = `)
	q.Param(e.Title)

	q.Unsafe(`, description = `)
	q.Param(e.Description)

	q.Unsafe(`, date = `)
	q.Param(e.Date)

	q.Unsafe(`, time = `)
	q.Param(e.Time)

	q.Unsafe(`, location = `)
	q.Param(e.Location)

	q.Unsafe(`, category = `)
	q.Param(e.Category)

	q.Unsafe(`, capacity = `)
	q.Param(e.Capacity)

	q.Unsafe(`, image_url = `)
	q.Param(nullString(e.ImageURL))

	q.Unsafe(`, updated_at = `)
	q.Param(e.UpdatedAt)

	q.Unsafe(` WHERE id = `)
	q.Param(e.ID)

	s, params := q.Get()

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("event not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func deleteEvent(ef execFunc, id uuid.UUID) error {
	var q db.Query

	q.Unsafe(`DELETE FROM events WHERE id = `)
	q.Param(id)

	s, params := q.Get()

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("event not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func selectEvents(qf queryFunc, f *event.Filter) ([]event.Event, error) {
	var q db.Query

	q.Unsafe(`SELECT id, title, description, date, time, location, category, capacity, image_url, created_by, created_at, updated_at FROM events WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.CreatedBy) > 0 {
		q.Unsafe(`AND created_by IN (`)
		q.Params(anySlice(f.CreatedBy)...)
		q.Unsafe(`) `)
	}

	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q.Unsafe(`AND (title LIKE `)
		q.Param(pattern)
		q.Unsafe(` OR description LIKE `)
		q.Param(pattern)
		q.Unsafe(` OR location LIKE `)
		q.Param(pattern)
		q.Unsafe(` OR category LIKE `)
		q.Param(pattern)
		q.Unsafe(`) `)
	}

	if f.NewestFirst {
		q.Unsafe(`ORDER BY created_at DESC, rowid DESC`)
	} else {
		q.Unsafe(`ORDER BY date ASC, rowid ASC`)
	}

	s, params := q.Get()

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]event.Event, 0)
	for rows.Next() {
		var (
			e        event.Event
			imageURL sql.NullString
		)
		err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Time, &e.Location, &e.Category, &e.Capacity, &imageURL, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		e.ImageURL = imageURL.String
		e.Attendees = []uuid.UUID{}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	if err := attachAttendees(qf, out); err != nil {
		return nil, err
	}

	return out, nil
}

// attachAttendees fills in the attendee IDs for the provided events, in
// join order.
func attachAttendees(qf queryFunc, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*event.Event, len(events))
	ids := make([]any, 0, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
		ids = append(ids, events[i].ID)
	}

	var q db.Query

	q.Unsafe(`SELECT event_id, user_id FROM event_attendees WHERE event_id IN (`)
	q.Params(ids...)
	q.Unsafe(`) ORDER BY created_at ASC, rowid ASC`)

	s, params := q.Get()

	rows, err := qf(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	defer rows.Close()

	for rows.Next() {
		var eventID, userID uuid.UUID
		if err := rows.Scan(&eventID, &userID); err != nil {
			return errorz.MapDBErr(err)
		}

		if e, ok := byID[eventID]; ok {
			e.Attendees = append(e.Attendees, userID)
		}
	}

	if err := rows.Err(); err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func insertAttendee(ef execFunc, eventID, userID uuid.UUID, at time.Time) error {
	if eventID == uuid.Nil || userID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	var q db.Query

	q.Unsafe(`INSERT INTO event_attendees (event_id, user_id, created_at) VALUES (`)
	q.Params(eventID, userID, at)
	q.Unsafe(`)`)

	s, params := q.Get()

	_, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func deleteAttendee(ef execFunc, eventID, userID uuid.UUID) error {
	var q db.Query

	q.Unsafe(`DELETE FROM event_attendees WHERE event_id = `)
	q.Param(eventID)
	q.Unsafe(` AND user_id = `)
	q.Param(userID)

	s, params := q.Get()

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("attendee not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
