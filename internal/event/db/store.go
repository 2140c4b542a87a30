// Package db provides a sqlite backed implementation of the event.Store
// interface.
package db

import (
	"context"
	"database/sql"

	"github.com/eventflow/eventflow/internal/event"
)

// Store is responsible for interacting with the events tables.
type Store struct {
	db *sql.DB
}

// New creates a new Store.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (event.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		tx: tx,
	}, nil
}

// FindEvents queries for events outside of a transaction.
func (s *Store) FindEvents(ctx context.Context, filter *event.Filter) ([]event.Event, error) {
	return selectEvents(func(query string, params ...any) (*sql.Rows, error) {
		return s.db.QueryContext(ctx, query, params...)
	}, filter)
}
