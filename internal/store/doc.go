// Package store persists sheets, batches, and polls state in SQLite. All
// mutation paths wrap errors with their operation and retry on SQLITE_BUSY.
package store
