// Package migrations embeds the Postgres schema so binaries can apply it
// without shipping the SQL files separately.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
