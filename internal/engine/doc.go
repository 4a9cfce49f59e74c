// Package engine implements the handshake protocol engine.
//
// The engine drives both sides of the per-peer negotiation: the initiator
// machine (ready → exchanging → proposing → closing → ready) and the
// responder machine (ready → confirming → exchanging → finalizing → ready),
// tracked independently per peer.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All state mutation happens in the Run loop goroutine. This ensures:
//   - Every read-check-write transition (verify expected nonce/reference,
//     then update) is atomic per (self, role, peer) key
//   - Inbound envelopes for one peer are processed in delivery order
//   - The outbound sweep never races an inbound handler on the same key
//
// Event Processing Flow:
//  1. Transports call Deliver() to enqueue inbound envelopes (any goroutine)
//  2. Run() dequeues one envelope at a time
//  3. The validator drops malformed envelopes silently
//  4. A lookup table keyed by (role, phase, intent) selects a pure
//     transition function; a missing entry or a failed echo check leaves
//     the record untouched
//  5. Accepted transitions write field deltas and ledger rows to SQLite
//
// A periodic tick runs the outbound sweep in the same goroutine: for every
// known conversation in both roles it builds at most one envelope, skipping
// peers whose preconditions are unmet, plus one broadcast register to
// advertise liveness to undiscovered peers.
//
// Liveness is enforced purely through bounded retry counters; there are no
// wall-clock timeouts. A counter over its limit is a transition guard that
// forces a cut-over or reset, never an error. None of the failure modes
// (malformed envelope, stale echo, exhausted retries, unmet send
// precondition) surface as operator-visible errors; the only externally
// observable signal is a conversation's phase.
package engine
