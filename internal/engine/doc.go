// Package engine runs the gateway's ingestion loop.
//
// The engine is the single owner of the serial link. Each Step either
// reopens a lost link, runs a card sync, ingests one live line, or idles.
// Live ingestion and card sync are mutually exclusive because both need the
// same console.
//
// ARCHITECTURE:
//
// Single-Threaded Poll Loop:
// All state lives in one State value, changed only through its named
// transitions. Nothing runs concurrently with Step, so there is no locking
// and every branch of the loop can be driven deterministically with fakes.
//
// Step Routing:
//  1. Link down: reopen with a fixed delay (watchdog held while down)
//  2. Bytes pending and a download wanted: card sync, then remote-file catch-up
//  3. Bytes pending: read one line, classify it, log and publish if in sequence
//  4. Nothing pending: sleep, and force a menu exit if the watchdog expired
//
// CRITICAL PATTERNS:
//
// Last Known Good:
// LastAccepted only moves on a parsed, in-sequence record (or to the newest
// record replayed from card files). Gaps and garbage never replace it, so the
// next comparison is always against a trustworthy record.
//
// Catch-Up Before Publish:
// While the store is out of sync, a new in-sequence record first triggers a
// local-log catch-up; the record itself is only published directly if that
// pass succeeded and did not already publish it.
package engine
