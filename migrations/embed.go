// Package migrations embeds the reading buffer schema into the binary.
package migrations

import "embed"

// FS holds the schema migrations at its root.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS holding the migration files.
const Dir = "."
