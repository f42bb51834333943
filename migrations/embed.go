// Package migrations embeds the goose SQL migrations for the Postgres
// checkout state backend.
package migrations

import "embed"

//go:embed *.sql
var MigrationsFS embed.FS
