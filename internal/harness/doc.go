// Package harness runs end-to-end replay scenarios against the real
// engine, sequence and batch coordinator.
//
// The portal is simulated by testutil.ScriptedOperator, downloads land in
// a memory filesystem, and every wait runs on a testutil.FakeClock, so a
// scenario with hundreds of seconds of portal waits finishes instantly
// and produces the same trace on every run.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_b_missing_key
//	description: "Key 2 never produces an XML"
//	run_id: run-b
//	backend: coordinate        # or locator
//	captcha: manual            # or auto
//	lists:
//	  - name: keys
//	    keys:
//	      - key: "35240100013333333333333333333333333333333333"
//	      - key: "35240100023333333333333333333333333333333333"
//	        behaviour: missing  # deliver | missing | error | timeout | fatal
//	assertions:
//	  - type: final_state
//	    state: completed
//	  - type: outcomes
//	    outcomes: [delivered, not_found]
//	  - type: call_count
//	    op: reload
//	    step: reload
//	    count: 1
//
// One list is a plain run. Several lists run as a batch, with each
// completed list's XMLs moved into XMLs_<name> under the batch root.
//
// # Assertion Types
//
//   - final_state: the run (or batch) ended in the given state
//   - outcomes: the per-key outcomes, across all lists, in order
//   - call_count: the operator saw op (optionally on step) exactly count times
//   - calls_order: the given calls appear in this relative order
//   - missing_log: the missing-documents log holds exactly these keys
//   - artifact: a file exists (or not) after the run
//
// # Golden Traces
//
// RunWithGolden renders the operator calls, the progress, not-found,
// error and done notifications, and the missing-documents log as text
// and compares it with testdata/golden/<name>.golden.
package harness
