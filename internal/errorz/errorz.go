package errorz

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConstraintViolated = errors.New("constraint violated")
	ErrTxBadState         = errors.New("transaction is in a known bad state")

	// ErrBusy indicates the database aborted the operation due to
	// contention. Callers may retry with a fresh read.
	ErrBusy = errors.New("database busy")
)

// MapDBErr maps database errors to appropriate errorz errors.
// If err is nil, MapDBErr returns nil.
func MapDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxBadState
	}

	sErr := sqlite3.Error{}
	if errors.As(err, &sErr) {
		switch sErr.Code {
		case sqlite3.ErrConstraint:
			return ErrConstraintViolated
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ErrBusy
		}
	}

	return err
}
