// Package migrations contains the database schema as a sequence of
// embedded migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
