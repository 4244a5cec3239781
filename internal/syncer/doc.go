// Package syncer is the multi-device sync engine.
//
// Local writes are optimistic: Push appends to the event log and marks the
// event pending in one local transaction, then attempts the remote insert.
// Sync retries pending uploads, then pulls incrementally or, when the local
// cache version is stale, fetches the whole remote set and merges the still
// pending local events into it before replacing the log. The realtime
// subscriber merges rows the remote pushes between syncs.
//
// Thread-safety model:
//   - Push, Sync, RetryNow, Pull, and the status accessors are safe from any
//     goroutine; a Push may land while a sync pass is in flight.
//   - At most one Sync runs at a time; concurrent callers share its result.
//   - Realtime.Run must be called from exactly one goroutine.
//
// Every remote call is bounded by the engine timeout. A timeout is a
// recoverable network failure: the event stays pending and a later retry
// pass uploads it.
package syncer
