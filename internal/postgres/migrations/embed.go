// Package migrations contains the embedded goose migrations for the
// Postgres credential and permission store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
