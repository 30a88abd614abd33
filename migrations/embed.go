// Package migrations embeds the goose migrations for the optional
// Postgres audit sink.
package migrations

import "embed"

//go:embed *.sql
var EmbeddedFS embed.FS
