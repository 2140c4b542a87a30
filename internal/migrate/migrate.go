// Package migrate runs .sql schema migrations from a file system and
// records what ran in a migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

var (
	// ErrNoTable indicates the migrations table does not exist.
	ErrNoTable = errors.New("migrations table does not exist")
	// ErrMigrationsMismatch indicates the available files no longer match
	// the migrations that ran before.
	ErrMigrationsMismatch = errors.New("migrations mismatch")
)

// Migration records a single migration that ran.
type Migration struct {
	// Sequence numbers migrations in run order, starting at 0.
	Sequence int
	Filename string
	Metadata Metadata
}

// Equal reports whether two migrations are the same.
func (m Migration) Equal(other Migration) bool {
	return m.Sequence == other.Sequence &&
		m.Filename == other.Filename &&
		m.Metadata.AppVersion == other.Metadata.AppVersion &&
		m.Metadata.Timestamp.Equal(other.Metadata.Timestamp)
}

// Metadata is stored alongside each migration to aid debugging: which
// build ran it and when.
type Metadata struct {
	AppVersion string
	Timestamp  time.Time
}

// MigrationError identifies the migration file that failed.
type MigrationError struct {
	Sequence int
	Filename string
	Err      error
}

func (m MigrationError) Error() string {
	return fmt.Sprintf("migration [%d] %q failed: %v", m.Sequence, m.Filename, m.Err)
}

const createTableQuery = `CREATE TABLE IF NOT EXISTS migrations (
	sequence    INTEGER PRIMARY KEY,
	filename    TEXT NOT NULL,
	app_version TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL
)
`

const selectQuery = `SELECT sequence, filename, app_version, timestamp FROM migrations ORDER BY sequence`

const insertQuery = `INSERT INTO migrations (sequence, filename, app_version, timestamp) VALUES (?, ?, ?, ?)`

// RunFS runs the pending migrations from fileSys and returns them, an
// empty slice if everything ran before. Only .sql files in the root of
// fileSys are considered, ordered by filename. The whole run happens in
// one transaction, a failing migration rolls back everything.
func RunFS(ctx context.Context, db *sql.DB, fileSys fs.FS, meta Metadata) ([]Migration, error) {
	files, err := readSQLFiles(fileSys)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	ran, err := runAll(tx, files, meta)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return nil, errors.Join(err, rErr)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ran, nil
}

func runAll(tx *sql.Tx, files []sqlFile, meta Metadata) ([]Migration, error) {
	if _, err := tx.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	ranBefore, err := scanMigrations(tx.Query(selectQuery))
	if err != nil {
		return nil, err
	}

	if err := checkHistory(ranBefore, files); err != nil {
		return nil, err
	}

	stmt, err := tx.Prepare(insertQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	ranNow := make([]Migration, 0)
	for i, f := range files[len(ranBefore):] {
		m := Migration{
			Sequence: len(ranBefore) + i,
			Filename: f.name,
			Metadata: meta,
		}

		if _, err := tx.Exec(f.content); err != nil {
			return nil, MigrationError{
				Sequence: m.Sequence,
				Filename: m.Filename,
				Err:      err,
			}
		}

		_, err := stmt.Exec(m.Sequence, m.Filename, m.Metadata.AppVersion, m.Metadata.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to insert migration: %w", err)
		}

		ranNow = append(ranNow, m)
	}

	return ranNow, nil
}

// checkHistory verifies that the files that ran before are still present
// under the same names. Removing or renaming a migration that ran would
// silently shift the sequence of everything after it.
func checkHistory(ranBefore []Migration, files []sqlFile) error {
	if len(ranBefore) > len(files) {
		return fmt.Errorf(
			"found %d existing migrations but only have %d files: %w",
			len(ranBefore), len(files), ErrMigrationsMismatch,
		)
	}

	for i, before := range ranBefore {
		if i != before.Sequence {
			return fmt.Errorf("migration sequence mismatch, wanted %d got %d", i, before.Sequence)
		}

		if before.Filename != files[i].name {
			return fmt.Errorf(
				"migration %d had filename %s, but now encountering %s: %w",
				i, before.Filename, files[i].name, ErrMigrationsMismatch,
			)
		}
	}

	return nil
}

// QueryMigrations returns all migrations that ran against db, in sequence
// order. It returns ErrNoTable if no migration ever ran.
func QueryMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	return scanMigrations(db.QueryContext(ctx, selectQuery))
}

func scanMigrations(rows *sql.Rows, err error) ([]Migration, error) {
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	migrations := make([]Migration, 0)
	for rows.Next() {
		var m Migration
		err := rows.Scan(&m.Sequence, &m.Filename, &m.Metadata.AppVersion, &m.Metadata.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}

		migrations = append(migrations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over rows: %w", err)
	}

	return migrations, nil
}

type sqlFile struct {
	name    string
	content string
}

func readSQLFiles(fileSys fs.FS) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fileSys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]sqlFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fileSys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", entry.Name(), err)
		}

		files = append(files, sqlFile{
			name:    entry.Name(),
			content: string(content),
		})
	}

	return files, nil
}
