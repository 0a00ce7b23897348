package migrations

import "embed"

// FS contains embedded SQLite migrations for the delivery attempt ledger.
//
//go:embed *.sql
var FS embed.FS
