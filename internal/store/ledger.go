package store

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-proto/parley/internal/session"
)

// RecordNonce appends one row to the audit ledger. seq comes from the
// engine's logical clock; the wall-clock timestamp is informational only and
// never used for ordering.
func (s *Store) RecordNonce(ctx context.Context, role session.Role, peer string, flow session.Flow, nonce string, seq int64) error {
	if nonce == "" {
		return fmt.Errorf("record nonce: empty nonce")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nonce_events (self_id, role, peer_id, flow, nonce, seq, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.selfID, string(role), peer, string(flow), nonce, seq, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	return nil
}

// PurgeNonces deletes every ledger row for (selfID, role, peer). Called the
// instant that role's handshake finalizes successfully. Idempotent: purging
// an already-empty key is a no-op.
func (s *Store) PurgeNonces(ctx context.Context, role session.Role, peer string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM nonce_events
		WHERE self_id = ? AND role = ? AND peer_id = ?
	`, s.selfID, string(role), peer)
	if err != nil {
		return fmt.Errorf("purge nonces: %w", err)
	}
	return nil
}

// ReadNonces returns the ledger rows for (selfID, role, peer) ordered by
// seq. Audit-only: the protocol never consults this.
func (s *Store) ReadNonces(ctx context.Context, role session.Role, peer string) ([]session.NonceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT self_id, role, peer_id, flow, nonce, seq, at
		FROM nonce_events
		WHERE self_id = ? AND role = ? AND peer_id = ?
		ORDER BY seq ASC, id ASC
	`, s.selfID, string(role), peer)
	if err != nil {
		return nil, fmt.Errorf("read nonces: %w", err)
	}
	defer rows.Close()

	var events []session.NonceEvent
	for rows.Next() {
		var (
			ev   session.NonceEvent
			role string
			flow string
			at   string
		)
		if err := rows.Scan(&ev.SelfID, &role, &ev.PeerID, &flow, &ev.Nonce, &ev.Seq, &at); err != nil {
			return nil, fmt.Errorf("scan nonce event: %w", err)
		}
		ev.Role = session.Role(role)
		ev.Flow = session.Flow(flow)
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			ev.At = ts
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nonce events: %w", err)
	}
	if events == nil {
		events = []session.NonceEvent{}
	}
	return events, nil
}
