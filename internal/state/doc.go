// Package state derives the application snapshot from the event log.
//
// Derive is a pure function of the set of valid events: it sorts them into
// replay order and folds them into a fresh accumulator. It never reads the
// wall clock; time-window queries take explicit bounds.
//
// A State is immutable once returned. Every query hands back copies, so a
// caller can never alias the replay accumulator or another caller's view.
package state
