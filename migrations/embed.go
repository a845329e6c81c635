// Package migrations embeds the SQL migration files for the sync journal.
package migrations

import "embed"

// FS contains all SQL migration files, applied by goose at startup.
//
//go:embed *.sql
var FS embed.FS
