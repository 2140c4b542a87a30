package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/db"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/errorz"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

func insertUser(ef execFunc, u *auth.User) error {
	if u.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	var q db.Query

	q.Unsafe(`INSERT INTO users (id, first_name, last_name, email, user_name, password_hash, refresh_token_hash, is_verified, created_at, updated_at) VALUES (`)
	q.Params(u.ID, u.FirstName, u.LastName, string(u.Email), u.UserName, u.PasswordHash.String(), u.RefreshTokenHash, u.IsVerified, u.CreatedAt, u.UpdatedAt)
	q.Unsafe(`)`)

	s, params := q.Get()

	_, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func updateUser(ef execFunc, u *auth.User) error {
	var q db.Query

	q.Unsafe(`UPDATE users SET `)

	q.Unsafe(`first_name = `)
	q.Param(u.FirstName)

	q.Unsafe(`, last_name = `)
	q.Param(u.LastName)

	q.Unsafe(`, email = `)
	q.Param(string(u.Email))

	q.Unsafe(`, user_name = `)
	q.Param(u.UserName)

	q.Unsafe(`, password_hash = `)
	q.Param(u.PasswordHash.String())

	q.Unsafe(`, refresh_token_hash = `)
	q.Param(u.RefreshTokenHash)

	q.Unsafe(`, is_verified = `)
	q.Param(u.IsVerified)

	q.Unsafe(`, created_at = `)
	q.Param(u.CreatedAt)

	q.Unsafe(`, updated_at = `)
	q.Param(u.UpdatedAt)

	q.Unsafe(` WHERE id = `)
	q.Param(u.ID)

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
		return fmt.Errorf("user not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func selectUsers(qf queryFunc, f *auth.UserFilter) ([]auth.User, error) {
	var q db.Query

	q.Unsafe(`SELECT id, first_name, last_name, email, user_name, password_hash, refresh_token_hash, is_verified, created_at, updated_at FROM users WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.Emails) > 0 {
		q.Unsafe(`AND email IN (`)
		q.Params(anySlice(f.Emails)...)
		q.Unsafe(`) `)
	}

	if len(f.UserNames) > 0 {
		q.Unsafe(`AND user_name IN (`)
		q.Params(anySlice(f.UserNames)...)
		q.Unsafe(`) `)
	}

	if len(f.Identifiers) > 0 {
		q.Unsafe(`AND (email IN (`)
		q.Params(anySlice(f.Identifiers)...)
		q.Unsafe(`) OR user_name IN (`)
		q.Params(anySlice(f.Identifiers)...)
		q.Unsafe(`)) `)
	}

	if len(f.RefreshTokenHashes) > 0 {
		q.Unsafe(`AND refresh_token_hash IN (`)
		q.Params(anySlice(f.RefreshTokenHashes)...)
		q.Unsafe(`) `)
	}

	q.Unsafe(`ORDER BY created_at ASC, rowid ASC`)

	s, params := q.Get()

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.User, 0)
	for rows.Next() {
		var (
			u    auth.User
			addr string
		)
		err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &addr, &u.UserName, &u.PasswordHash, &u.RefreshTokenHash, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		u.Email, err = email.ParseAddress(addr)
		if err != nil {
			return nil, err
		}

		out = append(out, u)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
