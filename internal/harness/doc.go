// Package harness runs declarative handshake scenarios for conformance
// testing.
//
// A scenario is a YAML file that declares a set of nodes, a sequence of
// steps (sweep ticks and injected envelopes), and assertions over the
// resulting envelope trace and final conversation state. Nodes run real
// engines over in-memory stores and the in-process bus, with deterministic
// token generators, so the same scenario always produces the same trace.
//
// Golden files under testdata/golden pin the exact trace a scenario
// produces; regenerate them with:
//
//	go test ./internal/harness -update
package harness
