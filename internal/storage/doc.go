// Package storage persists the recipient list.
//
// Drivers:
//   - file: JSON array snapshot plus an append-only JSON Lines journal
//   - sqlite: a single table in a SQLite database (modernc.org/sqlite, no cgo)
//   - redis: a sorted set scored by join time
//   - memory: process-local, for tests and dry runs
//
// Every driver returns recipients in registration order.
package storage
