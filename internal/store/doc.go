// Package store provides the local key-value persistence that backs the
// event log, the pending-upload set, and sync bookkeeping.
//
// The engine treats persistence as an injected capability: everything above
// this package depends only on the KV interface (get/set/remove by key). Two
// implementations exist:
//   - Store: SQLite-backed, durable, one row per key
//   - Memory: in-process map, for tests and ephemeral sessions
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - optional max_page_count: bounds the file so quota exhaustion is testable
//
// A write that fails because the database (or disk) is full returns an error
// matching ErrQuotaExceeded, so callers can prompt the user to export a backup.
package store
