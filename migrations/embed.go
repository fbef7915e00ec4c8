// Package migrations embeds the SQL files that create the message,
// keyword, and user tables and their query indices.
package migrations

import "embed"

// FS holds the embedded SQL migration files applied at startup.
//
//go:embed *.sql
var FS embed.FS
