// Package session defines the shared vocabulary of the handshake protocol:
// roles, phases, the per-peer conversation record, and nonce ledger events.
//
// A conversation is keyed by (self, role, peer). The two roles a node can
// hold toward the same peer are fully independent: the initiator table and
// the responder table never share state, even for the same peer identity.
//
// Phase is the only externally observable protocol signal. It is never empty
// once a conversation exists; stores normalize a missing phase to the role's
// default on first touch.
package session
