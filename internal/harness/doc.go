// Package harness runs reconciliation scenarios against a simulated ledger.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: drift_recovered
//	description: "Two untracked assets are recovered in one batch"
//	ledger:
//	  owner: "0x1111111111111111111111111111111111111111"
//	  held: ["1-12", 121, 137]
//	  tracked: ["1-12"]
//	  pending: 0
//	window: { start: 100, end: 150 }
//	operator: "0x1111111111111111111111111111111111111111"
//	faults:
//	  reverts: { recoverBatch: 1 }
//	assertions:
//	  - type: outcome
//	    expect: { outcome: recovered, state: Done }
//	  - type: trace_count
//	    action: recoverBatch
//	    count: 1
//
// Id lists accept single ids and inclusive "a-b" ranges.
//
// # Assertion Types
//
//   - trace_contains: a step with the action (and status, detail substring) exists
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - write_count: exactly N writes reached the ledger across all runs
//   - outcome: outcome, reason and state of the last run
//   - final_state: ledger custody after the last run
//   - warning: the last run raised a warning with the given code
//
// Assertions other than write_count and final_state look at the last run.
//
// # Deterministic Testing
//
// Every scenario runs on a fresh simulated ledger with a fixed run id and a
// deterministic wall clock, so the same scenario always produces the same
// run log. Golden snapshots store the run log without run id, timestamps or
// transaction hashes.
package harness
