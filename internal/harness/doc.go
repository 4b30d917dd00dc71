// Package harness runs YAML sync scenarios against the engine.
//
// A scenario drives local mutations, connectivity changes and drain passes
// against a scripted remote, then checks the calls made and the final
// LocalStore and queue.
//
// # Scenario Format
//
//	name: offline_create
//	description: "Create while offline, sync on reconnect"
//	backend: sqlite            # or bolt
//	options:
//	  max_retries: 3
//	  retry_delay: 30s
//	flow:
//	  - action: offline
//	  - action: create
//	    kind: expense
//	    as: lunch
//	    data: { amount: "12.50" }
//	  - action: drain
//	  - action: advance
//	    duration: 30s
//	  - action: online
//	  - action: drain
//	assertions:
//	  - type: calls
//	    calls: ["CREATE main/expense", "CREATE main/expense"]
//	  - type: entity
//	    kind: expense
//	    ref: lunch
//	    expect: { id: 1, amount: "12.50" }
//
// # Assertion Types
//
//   - calls: the exact ordered list of remote calls
//   - call_count: the number of remote calls
//   - entity: fields of one entity (subset match), or its absence
//   - entity_count: the number of entities of a kind
//   - queue: final queue size, statuses and methods
//   - sync_errors: the number of operations carrying an error
//
// # Deterministic Testing
//
// The harness uses:
//   - a manual clock starting at testutil.DefaultEpoch
//   - operation ids op-1, op-2, ...
//   - temporary ids drawn from sequential entropy
//   - a throwaway store per run
//
// This ensures identical traces across runs for golden file comparison.
package harness
