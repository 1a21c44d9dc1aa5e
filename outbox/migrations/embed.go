package migrations

import "embed"

// FS contains the SQLite schema of the offline write queue.
//
//go:embed *.sql
var FS embed.FS
