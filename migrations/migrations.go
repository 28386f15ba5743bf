package migrations

import "embed"

// FS embeds the SQL migrations applied by db.Migrate.
//
//go:embed *.sql
var FS embed.FS

// Version is the schema version the engine expects.
const Version = 2
