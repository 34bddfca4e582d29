// Package testutil provides deterministic fakes for the ingestion engine:
// a manually advanced clock, a scripted field logger that speaks the menu
// protocol over a fake serial port, a transfer launcher that "receives"
// files from that logger, and an in-memory store.
//
// Every fake can write to a shared Trace so scenario tests can compare the
// full interaction against a golden file.
package testutil
