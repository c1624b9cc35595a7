// Package migrations embeds the schema migration files for both storage
// backends so the binary can migrate without shipping loose SQL files.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
