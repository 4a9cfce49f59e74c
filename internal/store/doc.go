// Package store provides SQLite-backed durable storage for handshake state.
//
// Two tables back the protocol:
//   - conversations: one row per (self_id, role, peer_id) holding the phase,
//     outstanding nonces, session references, retry counters, and the last
//     observed transport address. Rows are created lazily and never deleted;
//     a failed round only resets the phase.
//   - nonce_events: an append-only audit log of nonce send/receive events,
//     purged wholesale for a (role, peer) when that role's handshake
//     finalizes successfully. Acceptance decisions never consult this table.
//
// Ledger reads order by the seq logical-clock column, never by wall time,
// so audit output is deterministic.
//
// The store performs no locking of its own: the engine's single-writer loop
// serializes every read-check-write transition per key.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
