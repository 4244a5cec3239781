// Package harness runs multi-device sync scenarios against real engines.
//
// Every device in a scenario gets its own in-memory store, event log,
// pending tracker, sync engine, and state cache. All devices share one
// in-memory remote and one fake clock, so a scenario can interleave offline
// edits, injected remote failures, and clock jumps across devices and then
// check that they converge.
//
// # Scenario Format
//
//	name: offline_devices_converge
//	description: "What this scenario validates"
//	start: 2026-03-01T09:00:00Z   # optional
//	devices: [a, b]
//	steps:
//	  - device: a
//	    do: plant
//	    args: { title: tomatoes, cost: 3, as: tom }
//	    expect: ok
//	  - { device: b, do: offline }
//	  - { device: a, do: water, args: { entity: tom }, expect: ok }
//	assertions:
//	  - { type: converged }
//	  - { type: entity, device: a, ref: tom, state: active, watered: 1 }
//
// The "as" argument labels the entity a step creates; later steps and
// assertions refer to it by label. Unknown labels are used as literal ids.
//
// # Operations
//
// Garden actions build an event from the device's current state and push it:
// plant (title, cost, leaf), water (entity, note), harvest (entity, result,
// note), uproot (entity, note), reflect (text), leaf (parent, name).
//
// Sync operations: sync, full_sync, retry, erase.
//
// Environment: offline and online toggle one device's link to the remote;
// advance (by) moves the shared clock; fail_insert fails the next remote
// insert; lose_response stores the next insert but reports it as failed.
//
// # Outcomes
//
// Each step records an outcome: "ok", an action refusal such as
// insufficient_soil or no_water, or a lower-cased sync error code such as
// network or duplicate_key.
//
// # Assertion Types
//
//   - soil: a device's available and/or capacity
//   - entity: an entity's lifecycle and progress count
//   - pending: a device's pending upload count
//   - reflections: a device's reflection count
//   - remote_rows: rows stored in the shared remote
//   - converged: the devices derive identical state
//   - trace_count: a step ran exactly N times, optionally with an outcome
//
// # Golden Traces
//
// RunWithGolden compares a scenario's trace with
// testdata/golden/<name>.golden. Ids and timestamps are kept out of the trace
// so the files stay stable.
package harness
