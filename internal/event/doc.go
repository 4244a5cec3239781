// Package event defines the wire model of the grove event log.
//
// An Event is an immutable, self-contained fact. Every event carries a
// client-assigned RFC 3339 timestamp (the replay order key) and a
// client-generated client_id (the de-duplication and idempotent-retry key).
// Per-type fields carry everything needed to replay the event in isolation;
// events never reference "current" state.
//
// The package also provides:
//   - Validate: shape checks shared by the log, pull, realtime, and import paths
//   - Sort/Less: the deterministic replay order (timestamp, client_id, type)
//   - MarshalCanonical/Digest: canonical JSON and domain-separated SHA-256
//     digests used to compare projections across replays
//   - IDGenerator: UUIDv7 client ids and a fixed generator for tests
package event
