// Package transport moves framed envelopes between nodes. The engine only
// sees the Sender half plus a delivery callback; everything else (dialing,
// TLS, framing) stays here.
//
// Two implementations ship:
//   - QUIC: one length-prefixed JSON envelope per stream, development TLS.
//   - Memory: an in-process bus for tests and the conformance harness.
package transport
