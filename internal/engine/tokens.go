package engine

import "github.com/google/uuid"

// TokenGenerator mints the two kinds of protocol tokens: short-lived nonces
// (single-use challenge values) and longer-lived session references
// (exchanged at successful completion, used to authenticate reconnect).
//
// Implemented by UUIDGenerator (production) and testutil.FixedTokens (tests).
type TokenGenerator interface {
	Nonce() string
	Reference() string
}

// UUIDGenerator mints time-sortable UUIDv7 tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, making tokens
// sortable by creation time, which is helpful when reading the nonce ledger.
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Nonce returns a fresh challenge token.
func (UUIDGenerator) Nonce() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Reference returns a fresh session reference.
func (UUIDGenerator) Reference() string {
	return "ref-" + uuid.Must(uuid.NewV7()).String()
}
