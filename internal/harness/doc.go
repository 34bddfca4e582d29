// Package harness runs end-to-end scenarios against the ingestion engine.
//
// A scenario scripts everything outside the process: the live lines the
// field logger prints, the files on its card, the store's starting anchor
// and any publish failures. The harness wires the real engine, syncer and
// reconciler to the testutil fakes, steps the engine until the scenario's
// stop condition holds, and returns the interaction trace.
//
// # Scenario Format
//
//	name: gap_triggers_card_sync
//	description: "Missing records are recovered from the card"
//	anchor: 42
//	stream:
//	  - record: 43
//	  - records: [46, 48]
//	  - line: "41,garbled"
//	card:
//	  - name: dataLog00001.TXT
//	    records: [41, 47]
//	publish_failures:
//	  - seq: 44
//	    times: 1
//	until:
//	  published: 48
//	assertions:
//	  - type: published
//	    seqs: [43, 44, 45, 46, 47, 48]
//	  - type: trace_order
//	    lines: ["device: menu", "transfer: dataLog00001.TXT"]
//
// Record n is stamped n minutes after the scenario epoch, so a card file
// and the live stream agree on the timestamp of every sequence number.
//
// # Assertion Types
//
//   - published: the store received exactly seqs, in order
//   - trace_contains: line appears in the trace
//   - trace_order: lines appear in this order, not necessarily adjacent
//   - trace_count: line appears exactly count times
//   - final_state: engine flags after the run
//
// # Golden Files
//
// RunWithGolden compares the trace with testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
