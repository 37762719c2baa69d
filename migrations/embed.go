// Package migrations embeds the SQL schema for both supported backends so
// the server binary is self-contained and does not depend on a migrations/
// directory being present next to it at runtime.
package migrations

import "embed"

// Postgres contains the range-partitioned schema.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite contains the unpartitioned schema used by the embedded/test backend.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
