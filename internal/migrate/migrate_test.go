package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/eventflow/eventflow/internal/db/testdb"
	"github.com/eventflow/eventflow/internal/migrate"
)

func Test_RunFS(t *testing.T) {
	t.Run("ok, empty fs", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		got, err := migrate.RunFS(context.Background(), db, fstest.MapFS{}, metaV1(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertMigrations(t, got, []migrate.Migration{})
		assertTable(t, db, []migrate.Migration{})
	})

	t.Run("ok, non-sql files and subdirs are skipped", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		fsys := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (val TEXT)"),
			"README.md":               sqlFile("not a migration"),
			"subdir/2_ignored.sql":    sqlFile("CREATE TABLE should_not_exist (val TEXT)"),
		}

		got, err := migrate.RunFS(context.Background(), db, fsys, metaV1(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []migrate.Migration{
			{Sequence: 0, Filename: "1_create_test_table.sql", Metadata: metaV1(t)},
		}
		assertMigrations(t, got, want)
		assertTable(t, db, want)
		assertNrOfRowsInTestTable(t, db, 0)
	})

	t.Run("ok, progression of migrations", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (val TEXT)"),
		}
		run2 := fstest.MapFS{
			"1_create_test_table.sql":     run1["1_create_test_table.sql"],
			"2_add_row_to_test_table.sql": sqlFile("INSERT INTO test_table (val) VALUES ('a')"),
			"3_add_another_row.sql":       sqlFile("INSERT INTO test_table (val) VALUES ('b')"),
		}

		migrations := []migrate.Migration{
			{Sequence: 0, Filename: "1_create_test_table.sql", Metadata: metaV1(t)},
			{Sequence: 1, Filename: "2_add_row_to_test_table.sql", Metadata: metaV2(t)},
			{Sequence: 2, Filename: "3_add_another_row.sql", Metadata: metaV2(t)},
		}

		t.Run("run_1", func(t *testing.T) {
			got, err := migrate.RunFS(context.Background(), db, run1, metaV1(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertMigrations(t, got, migrations[:1])
			assertTable(t, db, migrations[:1])
			assertNrOfRowsInTestTable(t, db, 0)
		})

		t.Run("run_2", func(t *testing.T) {
			got, err := migrate.RunFS(context.Background(), db, run2, metaV2(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertMigrations(t, got, migrations[1:3])
			assertTable(t, db, migrations[:3])
			assertNrOfRowsInTestTable(t, db, 2)
		})
	})

	t.Run("fail, error in migration rolls back the run", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		fsys := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (val TEXT)"),
			"2_insert_with_typo.sql":  sqlFile("INSRET INTO test_table (val) VALUES ('a')"),
		}

		_, err := migrate.RunFS(context.Background(), db, fsys, metaV1(t))

		var mErr migrate.MigrationError
		if !errors.As(err, &mErr) {
			t.Fatalf("got %T, want %T", err, mErr)
		}

		if mErr.Sequence != 1 || mErr.Filename != "2_insert_with_typo.sql" {
			t.Errorf("got %v, want sequence 1 for 2_insert_with_typo.sql", mErr)
		}

		// The whole run rolled back, including the first migration.
		_, err = migrate.QueryMigrations(context.Background(), db)
		if !errors.Is(err, migrate.ErrNoTable) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrNoTable)
		}
	})

	t.Run("fail, migration file that was executed was removed", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (val TEXT)"),
			"2_add_row.sql":           sqlFile("INSERT INTO test_table (val) VALUES ('a')"),
		}

		_, err := migrate.RunFS(context.Background(), db, run1, metaV1(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		run2 := fstest.MapFS{
			"1_create_test_table.sql": run1["1_create_test_table.sql"],
		}

		_, err = migrate.RunFS(context.Background(), db, run2, metaV2(t))
		if !errors.Is(err, migrate.ErrMigrationsMismatch) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrMigrationsMismatch)
		}

		assertNrOfRowsInTestTable(t, db, 1)
	})

	t.Run("fail, migration file that was executed was renamed", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (val TEXT)"),
		}

		_, err := migrate.RunFS(context.Background(), db, run1, metaV1(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		run2 := fstest.MapFS{
			"1_create_the_test_table.sql": run1["1_create_test_table.sql"],
		}

		_, err = migrate.RunFS(context.Background(), db, run2, metaV2(t))
		if !errors.Is(err, migrate.ErrMigrationsMismatch) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrMigrationsMismatch)
		}
	})
}

func Test_QueryMigrations(t *testing.T) {
	t.Run("fail, no table", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		_, err := migrate.QueryMigrations(context.Background(), db)
		if !errors.Is(err, migrate.ErrNoTable) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrNoTable)
		}
	})
}

func sqlFile(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

func metaV1(t *testing.T) migrate.Metadata {
	return migrate.Metadata{AppVersion: "v1.0.0", Timestamp: timeRFC3339(t, "2024-03-20T14:56:00Z")}
}

func metaV2(t *testing.T) migrate.Metadata {
	return migrate.Metadata{AppVersion: "v2.0.0", Timestamp: timeRFC3339(t, "2024-04-20T14:56:00Z")}
}

func assertTable(t *testing.T, db *sql.DB, want []migrate.Migration) {
	t.Helper()

	got, err := migrate.QueryMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}

	assertMigrations(t, got, want)
}

func assertMigrations(t *testing.T, got, want []migrate.Migration) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got\n%+v\nwant\n%+v\n", got, want)
	}

	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("got\n%+v\nwant\n%+v\n", got, want)
		}
	}
}

func assertNrOfRowsInTestTable(t *testing.T, db *sql.DB, want int) {
	t.Helper()

	row := db.QueryRow("SELECT COUNT(*) FROM test_table")

	var got int
	err := row.Scan(&got)
	if err != nil {
		t.Fatalf("failed to scan test_table: %v", err)
	}

	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func timeRFC3339(t *testing.T, v string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("failed to parse time: %v", err)
	}

	return ts
}
