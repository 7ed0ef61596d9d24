// Package storage persists execution records written by the report sink.
//
// It never stores pending work: a restarted scheduler starts empty.
//
// Drivers:
//   - "file": JSON Lines file, compacted to the newest MaxRecords
//   - "sqlite": SQLite database file (build tag sqlite)
package storage
