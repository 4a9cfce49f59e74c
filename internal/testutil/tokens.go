// Package testutil provides deterministic helpers shared by engine and
// harness tests.
package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens mints predictable nonce and reference tokens so traces can be
// compared against golden files.
//
// Nonces count up as "111", "222", ... and references as "REF-1", "REF-2",
// matching the literal values used in scenario fixtures. Sequences past 9
// continue as "n10", "n11", ... which no fixture should need.
//
// Thread-safety: safe for concurrent use via internal mutex, though the
// engine's single-writer loop means calls are serialized in practice.
type FixedTokens struct {
	mu     sync.Mutex
	nonces int
	refs   int
}

// NewFixedTokens creates a generator with both sequences at the start.
func NewFixedTokens() *FixedTokens {
	return &FixedTokens{}
}

// Nonce returns the next nonce in the fixed sequence.
func (g *FixedTokens) Nonce() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nonces++
	if g.nonces <= 9 {
		d := byte('0' + g.nonces)
		return string([]byte{d, d, d})
	}
	return fmt.Sprintf("n%d", g.nonces)
}

// Reference returns the next reference in the fixed sequence.
func (g *FixedTokens) Reference() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs++
	return fmt.Sprintf("REF-%d", g.refs)
}
