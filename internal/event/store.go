package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter is used to filter events.
// Returned events must match all the provided fields.
// If a field is empty or nil, it's ignored.
type Filter struct {
	IDs       []uuid.UUID
	CreatedBy []uuid.UUID
	// Search matches case-insensitively against title, description,
	// location and category.
	Search string
	// NewestFirst orders by creation time descending instead of the
	// default event date ascending.
	NewestFirst bool
}

// Store provides access to the event store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	FindEvents(ctx context.Context, filter *Filter) ([]Event, error)
}

// Tx is a transaction. If an error occurs on any of the methods, the
// transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
type Tx interface {
	Commit() error
	Rollback() error

	CreateEvent(e *Event) error
	UpdateEvent(e *Event) error
	DeleteEvent(id uuid.UUID) error
	FindEvents(filter *Filter) ([]Event, error)
	AddAttendee(eventID, userID uuid.UUID, at time.Time) error
	RemoveAttendee(eventID, userID uuid.UUID) error
}
