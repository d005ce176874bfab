// Package migrations embeds SQL migration files applied by internal/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
