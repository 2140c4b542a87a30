package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/errorz"
)

// DefaultCategory is assigned to events created without a category.
const DefaultCategory = "General"

// Categories lists the categories offered to clients. Events are not
// restricted to this list.
var Categories = []string{
	"Technology",
	"Business",
	"Arts",
	"Sports",
	"Education",
	"Networking",
	"Social",
	"Other",
}

// UserFinder resolves user IDs to user records, used to populate the user
// references on events.
type UserFinder interface {
	UsersByID(ctx context.Context, ids []uuid.UUID) ([]auth.User, error)
}

// Service provides the main rules for managing events and RSVPs.
type Service struct {
	store Store
	users UserFinder

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(store Store, users UserFinder) *Service {
	return &Service{
		store:   store,
		users:   users,
		NowFunc: time.Now,
	}
}

// Create creates a new event owned by createdBy.
func (s *Service) Create(ctx context.Context, createdBy uuid.UUID, in Input) (Populated, error) {
	if in.Category == "" {
		in.Category = DefaultCategory
	}

	if err := in.validate(); err != nil {
		return Populated{}, err
	}

	now := s.NowFunc()

	e := Event{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		Date:        in.Date,
		Time:        in.Time,
		Location:    in.Location,
		Category:    in.Category,
		Capacity:    in.Capacity,
		ImageURL:    in.ImageURL,
		CreatedBy:   createdBy,
		Attendees:   []uuid.UUID{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.inTx(ctx, func(tx Tx) error {
		return tx.CreateEvent(&e)
	})
	if err != nil {
		return Populated{}, err
	}

	return s.populate(ctx, e)
}

// Update applies an update to the event with the provided ID on behalf of
// userID, who must be the owner.
//
// Lowering the capacity below the current attendee count fails with a
// CapacityBelowAttendanceError. The check runs against the attendee set
// inside the same transaction that persists the new capacity, so a
// concurrent join cannot slip an event over its new limit.
func (s *Service) Update(ctx context.Context, userID, eventID uuid.UUID, up Update) (Populated, error) {
	var updated Event

	err := s.retryBusy(ctx, func(tx Tx) error {
		e, err := findOne(tx, eventID)
		if err != nil {
			return err
		}

		if e.CreatedBy != userID {
			return ErrNotOwner
		}

		if up.Title != nil {
			e.Title = *up.Title
		}
		if up.Description != nil {
			e.Description = *up.Description
		}
		if up.Date != nil {
			e.Date = *up.Date
		}
		if up.Time != nil {
			e.Time = *up.Time
		}
		if up.Location != nil {
			e.Location = *up.Location
		}
		if up.Category != nil {
			e.Category = *up.Category
		}
		if up.Capacity != nil {
			if *up.Capacity < 1 {
				return errorz.InvalidInput{errorz.Keyed{Key: "capacity", Err: errors.New("capacity must be at least 1")}}
			}
			if *up.Capacity < len(e.Attendees) {
				return CapacityBelowAttendanceError{Attendees: len(e.Attendees)}
			}
			e.Capacity = *up.Capacity
		}
		if up.ImageURL != nil {
			e.ImageURL = *up.ImageURL
		}

		e.UpdatedAt = s.NowFunc()

		if err := tx.UpdateEvent(&e); err != nil {
			return err
		}

		updated = e

		return nil
	})
	if err != nil {
		return Populated{}, err
	}

	return s.populate(ctx, updated)
}

// Delete removes the event with the provided ID on behalf of userID, who
// must be the owner. Attendee records are removed with the event.
func (s *Service) Delete(ctx context.Context, userID, eventID uuid.UUID) error {
	return s.inTx(ctx, func(tx Tx) error {
		e, err := findOne(tx, eventID)
		if err != nil {
			return err
		}

		if e.CreatedBy != userID {
			return ErrNotOwner
		}

		return tx.DeleteEvent(eventID)
	})
}

// Join adds userID to the event's attendee set. The preconditions are
// checked against a single consistent snapshot of the event, in this order:
// the event must exist, have spare capacity, not already include the user,
// and not be owned by the user. The check and the insert commit as one
// atomic unit, so two racing joins for the last spot cannot both succeed;
// the loser re-reads the event and fails the capacity check.
func (s *Service) Join(ctx context.Context, eventID, userID uuid.UUID) (Populated, error) {
	var joined Event

	err := s.retryBusy(ctx, func(tx Tx) error {
		e, err := findOne(tx, eventID)
		if err != nil {
			return err
		}

		if len(e.Attendees) >= e.Capacity {
			return ErrCapacityFull
		}

		if e.hasAttendee(userID) {
			return ErrAlreadyJoined
		}

		if e.CreatedBy == userID {
			return ErrSelfRSVP
		}

		if err := tx.AddAttendee(eventID, userID, s.NowFunc()); err != nil {
			return err
		}

		// Respond from the state read in this transaction. A re-read after
		// commit could observe a concurrent delete of the event.
		e.Attendees = append(e.Attendees, userID)
		joined = e

		return nil
	})
	if err != nil {
		return Populated{}, err
	}

	return s.populate(ctx, joined)
}

// Leave removes userID from the event's attendee set. It fails with
// ErrNotJoined if the user is not an attendee.
func (s *Service) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	return s.retryBusy(ctx, func(tx Tx) error {
		e, err := findOne(tx, eventID)
		if err != nil {
			return err
		}

		if !e.hasAttendee(userID) {
			return ErrNotJoined
		}

		return tx.RemoveAttendee(eventID, userID)
	})
}

// Get returns the populated event with the provided ID.
func (s *Service) Get(ctx context.Context, eventID uuid.UUID) (Populated, error) {
	events, err := s.store.FindEvents(ctx, &Filter{
		IDs: []uuid.UUID{eventID},
	})
	if err != nil {
		return Populated{}, err
	}

	if len(events) != 1 {
		return Populated{}, errorz.ErrNotFound
	}

	return s.populate(ctx, events[0])
}

// List returns all events ordered by event date.
func (s *Service) List(ctx context.Context) ([]Populated, error) {
	return s.findPopulated(ctx, &Filter{})
}

// ListByCreator returns the events created by userID, newest first.
func (s *Service) ListByCreator(ctx context.Context, userID uuid.UUID) ([]Populated, error) {
	return s.findPopulated(ctx, &Filter{
		CreatedBy:   []uuid.UUID{userID},
		NewestFirst: true,
	})
}

// Search returns the events whose title, description, location or category
// contains the query, ordered by event date.
func (s *Service) Search(ctx context.Context, query string) ([]Populated, error) {
	return s.findPopulated(ctx, &Filter{
		Search: query,
	})
}

func (s *Service) findPopulated(ctx context.Context, filter *Filter) ([]Populated, error) {
	events, err := s.store.FindEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	return s.populateAll(ctx, events)
}

func (s *Service) populate(ctx context.Context, e Event) (Populated, error) {
	out, err := s.populateAll(ctx, []Event{e})
	if err != nil {
		return Populated{}, err
	}

	return out[0], nil
}

func (s *Service) populateAll(ctx context.Context, events []Event) ([]Populated, error) {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		for _, id := range append([]uuid.UUID{e.CreatedBy}, e.Attendees...) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	users, err := s.users.UsersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]auth.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]Populated, 0, len(events))
	for _, e := range events {
		p := Populated{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Date:        e.Date,
			Time:        e.Time,
			Location:    e.Location,
			Category:    e.Category,
			Capacity:    e.Capacity,
			ImageURL:    e.ImageURL,
			CreatedBy:   userRef(byID[e.CreatedBy], true),
			Attendees:   make([]UserRef, 0, len(e.Attendees)),
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.UpdatedAt,
		}

		for _, id := range e.Attendees {
			p.Attendees = append(p.Attendees, userRef(byID[id], false))
		}

		out = append(out, p)
	}

	return out, nil
}

func userRef(u auth.User, withEmail bool) UserRef {
	ref := UserRef{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		UserName:  u.UserName,
	}

	if withEmail {
		ref.Email = u.Email
	}

	return ref
}

func findOne(tx Tx, eventID uuid.UUID) (Event, error) {
	events, err := tx.FindEvents(&Filter{
		IDs: []uuid.UUID{eventID},
	})
	if err != nil {
		return Event{}, err
	}

	if len(events) != 1 {
		return Event{}, errorz.ErrNotFound
	}

	return events[0], nil
}

// retryBusy runs f in a transaction like inTx, but retries once when the
// store reports a lock conflict. The retry re-reads the event state, so a
// caller that lost a race observes the winner's changes before its own
// preconditions are re-checked.
func (s *Service) retryBusy(ctx context.Context, f func(tx Tx) error) error {
	err := s.inTx(ctx, f)
	if errors.Is(err, errorz.ErrBusy) {
		return s.inTx(ctx, f)
	}

	return err
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
