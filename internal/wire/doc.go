// Package wire defines the handshake envelope, its JSON encoding, the
// length-prefixed framing used on stream transports, and the inbound
// validator that shape-checks envelopes before they reach a state machine.
package wire
