package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/parley-proto/parley/internal/session"
)

// ErrNotFound is returned by Get when no conversation exists for the key.
var ErrNotFound = errors.New("conversation not found")

// Ensure returns the conversation for (selfID, role, peer), creating it with
// defaultPhase if absent. A row that somehow carries an empty phase is
// normalized to defaultPhase, so a conversation's phase is never empty after
// Ensure returns.
func (s *Store) Ensure(ctx context.Context, role session.Role, peer string, defaultPhase session.Phase) (session.Conversation, error) {
	if !role.Valid() {
		return session.Conversation{}, fmt.Errorf("ensure conversation: invalid role %q", role)
	}
	if peer == "" {
		return session.Conversation{}, fmt.Errorf("ensure conversation: empty peer id")
	}

	// ON CONFLICT DO NOTHING keeps this idempotent under re-delivery.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (self_id, role, peer_id, phase)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(self_id, role, peer_id) DO NOTHING
	`, s.selfID, string(role), peer, string(defaultPhase))
	if err != nil {
		return session.Conversation{}, fmt.Errorf("ensure conversation: insert: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET phase = ?
		WHERE self_id = ? AND role = ? AND peer_id = ? AND phase = ''
	`, string(defaultPhase), s.selfID, string(role), peer)
	if err != nil {
		return session.Conversation{}, fmt.Errorf("ensure conversation: normalize phase: %w", err)
	}

	return s.Get(ctx, role, peer)
}

// Get reads the conversation for (selfID, role, peer).
// Returns ErrNotFound if the row does not exist.
func (s *Store) Get(ctx context.Context, role session.Role, peer string) (session.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT self_id, role, peer_id, phase, local_nonce, peer_nonce,
		       local_ref, peer_ref, exchange_count, finalize_retries, last_addr
		FROM conversations
		WHERE self_id = ? AND role = ? AND peer_id = ?
	`, s.selfID, string(role), peer)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Conversation{}, ErrNotFound
	}
	if err != nil {
		return session.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// Update applies a partial merge to the conversation for (selfID, role, peer).
// Nil fields are left untouched; non-nil fields overwrite (last write wins).
// Callers are responsible for serializing updates per key.
func (s *Store) Update(ctx context.Context, role session.Role, peer string, fields session.Fields) error {
	if fields.IsZero() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if fields.Phase != nil {
		set("phase", string(*fields.Phase))
	}
	if fields.LocalNonce != nil {
		set("local_nonce", *fields.LocalNonce)
	}
	if fields.PeerNonce != nil {
		set("peer_nonce", *fields.PeerNonce)
	}
	if fields.LocalRef != nil {
		set("local_ref", *fields.LocalRef)
	}
	if fields.PeerRef != nil {
		set("peer_ref", *fields.PeerRef)
	}
	if fields.ExchangeCount != nil {
		set("exchange_count", *fields.ExchangeCount)
	}
	if fields.FinalizeRetries != nil {
		set("finalize_retries", *fields.FinalizeRetries)
	}
	if fields.LastAddr != nil {
		set("last_addr", *fields.LastAddr)
	}

	args = append(args, s.selfID, string(role), peer)
	query := fmt.Sprintf(`
		UPDATE conversations SET %s
		WHERE self_id = ? AND role = ? AND peer_id = ?
	`, strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every conversation this node holds in the given role, ordered
// by peer id for deterministic sweeps.
func (s *Store) List(ctx context.Context, role session.Role) ([]session.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT self_id, role, peer_id, phase, local_nonce, peer_nonce,
		       local_ref, peer_ref, exchange_count, finalize_retries, last_addr
		FROM conversations
		WHERE self_id = ? AND role = ?
		ORDER BY peer_id COLLATE BINARY ASC
	`, s.selfID, string(role))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// ListAll returns every conversation across both roles, ordered by role then
// peer id.
func (s *Store) ListAll(ctx context.Context) ([]session.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT self_id, role, peer_id, phase, local_nonce, peer_nonce,
		       local_ref, peer_ref, exchange_count, finalize_retries, last_addr
		FROM conversations
		WHERE self_id = ?
		ORDER BY role ASC, peer_id COLLATE BINARY ASC
	`, s.selfID)
	if err != nil {
		return nil, fmt.Errorf("list all conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// scanner abstracts *sql.Row and *sql.Rows for scanConversation.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (session.Conversation, error) {
	var (
		conv session.Conversation
		role string
		ph   string
	)
	err := sc.Scan(
		&conv.SelfID, &role, &conv.PeerID, &ph,
		&conv.LocalNonce, &conv.PeerNonce,
		&conv.LocalRef, &conv.PeerRef,
		&conv.ExchangeCount, &conv.FinalizeRetries, &conv.LastAddr,
	)
	if err != nil {
		return session.Conversation{}, err
	}
	conv.Role = session.Role(role)
	conv.Phase = session.Phase(ph)
	return conv, nil
}

func collectConversations(rows *sql.Rows) ([]session.Conversation, error) {
	var convs []session.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	if convs == nil {
		convs = []session.Conversation{}
	}
	return convs, nil
}
