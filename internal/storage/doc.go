// Package storage journals finished job runs for operators.
//
// Pending jobs are never persisted: the journal is a history, not a queue.
// Two backends exist:
//   - file: append-only JSON Lines, compacted to the newest Retain records
//   - sqlite: a single table in a modernc.org/sqlite database
package storage
