package event_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/auth"
	authdb "github.com/eventflow/eventflow/internal/auth/db"
	"github.com/eventflow/eventflow/internal/db/testdb"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/errorz"
	"github.com/eventflow/eventflow/internal/event"
	eventdb "github.com/eventflow/eventflow/internal/event/db"
	"github.com/eventflow/eventflow/internal/krypto"
)

func Test_Service_Create(t *testing.T) {
	t.Run("ok, create event", func(t *testing.T) {
		st := newServiceTest(t)

		got, err := st.svc.Create(context.Background(), st.owner, testInput(nil))
		if err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		if got.ID == uuid.Nil {
			t.Fatalf("expected a non-zero event id")
		}

		if got.CreatedBy.ID != st.owner {
			t.Fatalf("got owner %v, want %v", got.CreatedBy.ID, st.owner)
		}

		if got.CreatedBy.Email == "" {
			t.Fatalf("expected the owner reference to include the email address")
		}

		if len(got.Attendees) != 0 {
			t.Fatalf("expected no attendees, got %d", len(got.Attendees))
		}
	})

	t.Run("ok, empty category becomes the default", func(t *testing.T) {
		st := newServiceTest(t)

		got, err := st.svc.Create(context.Background(), st.owner, testInput(func(in *event.Input) {
			in.Category = ""
		}))
		if err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		if got.Category != event.DefaultCategory {
			t.Fatalf("got category %q, want %q", got.Category, event.DefaultCategory)
		}
	})

	t.Run("fail, invalid input", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.Create(context.Background(), st.owner, testInput(func(in *event.Input) {
			in.Title = ""
			in.Capacity = 0
		}))

		var invalid errorz.InvalidInput
		if !errors.As(err, &invalid) {
			t.Fatalf("expected an errorz.InvalidInput error, got %v", err)
		}

		if len(invalid) != 2 {
			t.Fatalf("expected 2 errors, got %d: %v", len(invalid), invalid)
		}
	})
}

func Test_Service_Update(t *testing.T) {
	t.Run("ok, owner updates fields", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		got, err := st.svc.Update(context.Background(), st.owner, e.ID, event.Update{
			Title:    ptr("Updated Title"),
			Capacity: ptr(5),
		})
		if err != nil {
			t.Fatalf("failed to update event: %v", err)
		}

		if got.Title != "Updated Title" || got.Capacity != 5 {
			t.Fatalf("got %q capacity %d, want %q capacity %d", got.Title, got.Capacity, "Updated Title", 5)
		}
	})

	t.Run("fail, not the owner", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		_, err := st.svc.Update(context.Background(), st.users[0], e.ID, event.Update{
			Title: ptr("Hijacked"),
		})
		if !errors.Is(err, event.ErrNotOwner) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrNotOwner, err)
		}
	})

	t.Run("fail, unknown event", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.Update(context.Background(), st.owner, uuid.New(), event.Update{
			Title: ptr("Nothing here"),
		})
		if !errors.Is(err, errorz.ErrNotFound) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
		}
	})

	t.Run("fail, capacity below current attendance", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 3
		})

		st.join(e.ID, st.users[0])
		st.join(e.ID, st.users[1])

		_, err := st.svc.Update(context.Background(), st.owner, e.ID, event.Update{
			Capacity: ptr(1),
		})

		var capErr event.CapacityBelowAttendanceError
		if !errors.As(err, &capErr) {
			t.Fatalf("expected a CapacityBelowAttendanceError, got %v", err)
		}

		if capErr.Attendees != 2 {
			t.Fatalf("got %d attendees in error, want 2", capErr.Attendees)
		}

		// Lowering to exactly the attendee count is allowed.
		got, err := st.svc.Update(context.Background(), st.owner, e.ID, event.Update{
			Capacity: ptr(2),
		})
		if err != nil {
			t.Fatalf("failed to update event: %v", err)
		}

		if got.Capacity != 2 {
			t.Fatalf("got capacity %d, want 2", got.Capacity)
		}
	})
}

func Test_Service_Delete(t *testing.T) {
	t.Run("ok, owner deletes event", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		if err := st.svc.Delete(context.Background(), st.owner, e.ID); err != nil {
			t.Fatalf("failed to delete event: %v", err)
		}

		_, err := st.svc.Get(context.Background(), e.ID)
		if !errors.Is(err, errorz.ErrNotFound) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
		}
	})

	t.Run("fail, not the owner", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		err := st.svc.Delete(context.Background(), st.users[0], e.ID)
		if !errors.Is(err, event.ErrNotOwner) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrNotOwner, err)
		}
	})
}

func Test_Service_Join(t *testing.T) {
	t.Run("ok, join event", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		got, err := st.svc.Join(context.Background(), e.ID, st.users[0])
		if err != nil {
			t.Fatalf("failed to join event: %v", err)
		}

		if len(got.Attendees) != 1 || got.Attendees[0].ID != st.users[0] {
			t.Fatalf("expected attendees to contain %v, got %v", st.users[0], got.Attendees)
		}

		// Attendee references never expose email addresses.
		if got.Attendees[0].Email != "" {
			t.Fatalf("expected attendee reference without email, got %q", got.Attendees[0].Email)
		}
	})

	t.Run("fail, unknown event", func(t *testing.T) {
		st := newServiceTest(t)

		_, err := st.svc.Join(context.Background(), uuid.New(), st.users[0])
		if !errors.Is(err, errorz.ErrNotFound) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
		}
	})

	t.Run("fail, at capacity", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 1
		})

		st.join(e.ID, st.users[0])

		_, err := st.svc.Join(context.Background(), e.ID, st.users[1])
		if !errors.Is(err, event.ErrCapacityFull) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrCapacityFull, err)
		}
	})

	t.Run("fail, already joined", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		st.join(e.ID, st.users[0])

		_, err := st.svc.Join(context.Background(), e.ID, st.users[0])
		if !errors.Is(err, event.ErrAlreadyJoined) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrAlreadyJoined, err)
		}
	})

	t.Run("fail, own event", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		_, err := st.svc.Join(context.Background(), e.ID, st.owner)
		if !errors.Is(err, event.ErrSelfRSVP) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrSelfRSVP, err)
		}
	})

	t.Run("capacity check wins over duplicate check", func(t *testing.T) {
		// The checks run in a fixed order: a full event reports
		// capacity, even to a user that already joined.
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 1
		})

		st.join(e.ID, st.users[0])

		_, err := st.svc.Join(context.Background(), e.ID, st.users[0])
		if !errors.Is(err, event.ErrCapacityFull) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrCapacityFull, err)
		}
	})

	t.Run("ok, join after leaving", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		st.join(e.ID, st.users[0])

		if err := st.svc.Leave(context.Background(), e.ID, st.users[0]); err != nil {
			t.Fatalf("failed to leave event: %v", err)
		}

		got, err := st.svc.Join(context.Background(), e.ID, st.users[0])
		if err != nil {
			t.Fatalf("failed to rejoin event: %v", err)
		}

		if len(got.Attendees) != 1 {
			t.Fatalf("expected 1 attendee, got %d", len(got.Attendees))
		}
	})

	t.Run("ok, full event scenario", func(t *testing.T) {
		// Capacity 2 event with attendee A. B joins, C is rejected,
		// B leaves, then C takes the freed spot.
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 2
		})

		a, b, c := st.users[0], st.users[1], st.users[2]

		st.join(e.ID, a)
		st.join(e.ID, b)

		_, err := st.svc.Join(context.Background(), e.ID, c)
		if !errors.Is(err, event.ErrCapacityFull) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrCapacityFull, err)
		}

		if err := st.svc.Leave(context.Background(), e.ID, b); err != nil {
			t.Fatalf("failed to leave event: %v", err)
		}

		got, err := st.svc.Join(context.Background(), e.ID, c)
		if err != nil {
			t.Fatalf("failed to join event: %v", err)
		}

		want := []uuid.UUID{a, c}
		if len(got.Attendees) != len(want) {
			t.Fatalf("expected %d attendees, got %d", len(want), len(got.Attendees))
		}
		for i, ref := range got.Attendees {
			if ref.ID != want[i] {
				t.Fatalf("attendee %d: got %v, want %v", i, ref.ID, want[i])
			}
		}
	})

	t.Run("ok, join response survives a concurrent delete", func(t *testing.T) {
		testDB := testdb.RunWhile(t, true)
		userStore := authdb.New(testDB)

		store := &deleteAfterCommitStore{Store: eventdb.New(testDB)}
		svc := event.NewService(store, &userFinder{store: userStore})

		owner := createUser(t, userStore, "owner@example.com", "theowner")
		guest := createUser(t, userStore, "guest@example.com", "guest")

		e, err := svc.Create(context.Background(), owner, testInput(nil))
		if err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		// The owner deletes the event the moment the join commits,
		// before the response is produced.
		store.deleteOnCommit = e.ID

		got, err := svc.Join(context.Background(), e.ID, guest)
		if err != nil {
			t.Fatalf("failed to join event: %v", err)
		}

		if len(got.Attendees) != 1 || got.Attendees[0].ID != guest {
			t.Fatalf("expected attendees to contain %v, got %v", guest, got.Attendees)
		}

		if _, err := svc.Get(context.Background(), e.ID); !errors.Is(err, errorz.ErrNotFound) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
		}
	})

	t.Run("ok, concurrent joins never exceed capacity", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 2
		})

		st.join(e.ID, st.users[0])

		// One spot left, two racing joins. Exactly one may win.
		results := make(chan error, 2)
		var wg sync.WaitGroup
		for _, userID := range []uuid.UUID{st.users[1], st.users[2]} {
			wg.Add(1)
			go func(userID uuid.UUID) {
				defer wg.Done()
				_, err := st.svc.Join(context.Background(), e.ID, userID)
				results <- err
			}(userID)
		}
		wg.Wait()
		close(results)

		var wins, capacityFails int
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, event.ErrCapacityFull):
				capacityFails++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if wins != 1 || capacityFails != 1 {
			t.Fatalf("got %d wins and %d capacity failures, want exactly 1 of each", wins, capacityFails)
		}

		got, err := st.svc.Get(context.Background(), e.ID)
		if err != nil {
			t.Fatalf("failed to get event: %v", err)
		}

		if len(got.Attendees) != got.Capacity {
			t.Fatalf("got %d attendees for capacity %d", len(got.Attendees), got.Capacity)
		}
	})

	t.Run("ok, many concurrent joins keep the capacity invariant", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(func(in *event.Input) {
			in.Capacity = 3
		})

		var wg sync.WaitGroup
		for _, userID := range st.users {
			wg.Add(1)
			go func(userID uuid.UUID) {
				defer wg.Done()
				// Both outcomes are fine, the invariant below is what matters.
				_, _ = st.svc.Join(context.Background(), e.ID, userID)
			}(userID)
		}
		wg.Wait()

		got, err := st.svc.Get(context.Background(), e.ID)
		if err != nil {
			t.Fatalf("failed to get event: %v", err)
		}

		if len(got.Attendees) > got.Capacity {
			t.Fatalf("capacity invariant violated: %d attendees for capacity %d", len(got.Attendees), got.Capacity)
		}

		if len(got.Attendees) != got.Capacity {
			t.Fatalf("expected the event to fill up, got %d of %d", len(got.Attendees), got.Capacity)
		}
	})
}

func Test_Service_Leave(t *testing.T) {
	t.Run("fail, not joined", func(t *testing.T) {
		st := newServiceTest(t)
		e := st.createEvent(nil)

		err := st.svc.Leave(context.Background(), e.ID, st.users[0])
		if !errors.Is(err, event.ErrNotJoined) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", event.ErrNotJoined, err)
		}
	})

	t.Run("fail, unknown event", func(t *testing.T) {
		st := newServiceTest(t)

		err := st.svc.Leave(context.Background(), uuid.New(), st.users[0])
		if !errors.Is(err, errorz.ErrNotFound) {
			t.Fatalf("expected error %v, got %v (via errors.Is)", errorz.ErrNotFound, err)
		}
	})
}

func Test_Service_ListByCreator(t *testing.T) {
	st := newServiceTest(t)

	first := st.createEvent(nil)
	time.Sleep(5 * time.Millisecond)
	second := st.createEvent(func(in *event.Input) {
		in.Title = "Second Event"
	})

	got, err := st.svc.ListByCreator(context.Background(), st.owner)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	// Newest first.
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("got order [%v %v], want [%v %v]", got[0].ID, got[1].ID, second.ID, first.ID)
	}
}

type serviceTest struct {
	t     *testing.T
	svc   *event.Service
	owner uuid.UUID
	users []uuid.UUID
}

func newServiceTest(t *testing.T) *serviceTest {
	t.Helper()

	testDB := testdb.RunWhile(t, true)

	userStore := authdb.New(testDB)

	st := &serviceTest{
		t:   t,
		svc: event.NewService(eventdb.New(testDB), &userFinder{store: userStore}),
	}

	st.owner = createUser(t, userStore, "owner@example.com", "theowner")
	for i := 0; i < 5; i++ {
		st.users = append(st.users, createUser(t,
			userStore,
			fmt.Sprintf("user%d@example.com", i),
			fmt.Sprintf("user%d", i),
		))
	}

	return st
}

func (st *serviceTest) createEvent(modFunc func(*event.Input)) event.Populated {
	st.t.Helper()

	e, err := st.svc.Create(context.Background(), st.owner, testInput(modFunc))
	if err != nil {
		st.t.Fatalf("failed to create event: %v", err)
	}

	return e
}

func (st *serviceTest) join(eventID, userID uuid.UUID) {
	st.t.Helper()

	if _, err := st.svc.Join(context.Background(), eventID, userID); err != nil {
		st.t.Fatalf("failed to join event: %v", err)
	}
}

func testInput(modFunc func(*event.Input)) event.Input {
	in := event.Input{
		Title:       "Test Event",
		Description: "An event for testing",
		Date:        time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
		Time:        "19:30",
		Location:    "Amsterdam",
		Category:    "Technology",
		Capacity:    4,
	}

	if modFunc != nil {
		modFunc(&in)
	}

	return in
}

func createUser(t *testing.T, store *authdb.Store, addr, userName string) uuid.UUID {
	t.Helper()

	hash, err := krypto.ParseArgon2Hash("$argon2id$v=19$m=47104,t=1,p=1$vP9U4C5jsOzFQLj0gvUkYw$YLrSb2dGfcVohlm8syynqHs6/NHxXS9rt/t6TjL7pi0")
	if err != nil {
		t.Fatalf("failed to parse hash: %v", err)
	}

	now := time.Now()
	u := auth.User{
		ID:           uuid.New(),
		FirstName:    "Test",
		LastName:     "User",
		Email:        must(email.ParseAddress(addr)),
		UserName:     userName,
		PasswordHash: hash,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := store.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	if err := tx.CreateUser(&u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit tx: %v", err)
	}

	return u.ID
}

// deleteAfterCommitStore removes an event right after a transaction
// commits, simulating a delete that lands between a join's commit and its
// response.
type deleteAfterCommitStore struct {
	event.Store
	deleteOnCommit uuid.UUID
}

func (s *deleteAfterCommitStore) BeginTx(ctx context.Context) (event.Tx, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	return &deleteAfterCommitTx{Tx: tx, store: s}, nil
}

type deleteAfterCommitTx struct {
	event.Tx
	store *deleteAfterCommitStore
}

func (t *deleteAfterCommitTx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}

	if id := t.store.deleteOnCommit; id != uuid.Nil {
		tx, err := t.store.Store.BeginTx(context.Background())
		if err != nil {
			return err
		}

		if err := tx.DeleteEvent(id); err != nil {
			return errors.Join(err, tx.Rollback())
		}

		return tx.Commit()
	}

	return nil
}

// userFinder adapts the auth store to the event.UserFinder interface
// without pulling in the full auth service.
type userFinder struct {
	store *authdb.Store
}

func (f *userFinder) UsersByID(ctx context.Context, ids []uuid.UUID) ([]auth.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	return f.store.FindUsers(ctx, &auth.UserFilter{IDs: ids})
}

func ptr[T any](v T) *T {
	return &v
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}
