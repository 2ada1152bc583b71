// Package readingstore buffers readings in SQLite between ingest and the
// north task.
//
// Every appended reading gets a monotonically increasing ID. A north stream
// remembers the ID of the last reading it delivered (its position); the next
// block starts after it. Rows at or below the slowest position can be purged.
package readingstore
