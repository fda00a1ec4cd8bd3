// Package storage is the durable recipient store.
//
// Two drivers implement Store:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "file":   an fsynced JSON Lines journal compacted into a snapshot
//
// Register is insert-if-absent and returns only after the token is on disk.
package storage
