package migrations

import "embed"

// FS contains the SQLite schema of the notes store.
//
//go:embed *.sql
var FS embed.FS
