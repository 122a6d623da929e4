// Package storage persists the member directory and the operator audit log.
//
// Drivers:
//   - "memory": process-local maps, lost on restart
//   - "file": JSON Lines journal compacted into a snapshot
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
