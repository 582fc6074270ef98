// Package storage persists the audit trail of logins, batches and account changes.
//
// Two drivers are available:
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": append-only JSON Lines, compacted on prune
package storage
