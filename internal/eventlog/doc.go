// Package eventlog is the append-only event log: the single source of truth
// for application state.
//
// The log validates every event it is handed and drops malformed ones with a
// diagnostic instead of failing, so one bad write (a corrupted import row, a
// malformed realtime notification) can never corrupt the log or abort a batch.
// client_id is unique within the log: appending an event whose client_id is
// already present is a no-op, which makes retried pushes idempotent.
//
// Mutations notify subscribers synchronously (the derived-state cache uses
// this for invalidation) and schedule a debounced write of the whole log to
// the injected key-value store.
package eventlog
