package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-proto/parley/internal/wire"
)

// Bus is an in-process transport for tests: nodes register under an address
// and envelopes are handed to the destination's handler synchronously.
type Bus struct {
	mu    sync.RWMutex
	nodes map[string]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{nodes: make(map[string]Handler)}
}

// Attach registers a node under addr and returns its Memory sender.
func (b *Bus) Attach(addr string, h Handler) *Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[addr] = h
	return &Memory{bus: b, addr: addr}
}

// Detach removes a node from the bus.
func (b *Bus) Detach(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, addr)
}

func (b *Bus) deliver(to, from string, env wire.Envelope) error {
	b.mu.RLock()
	h, ok := b.nodes[to]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no node at %s", to)
	}
	h(env, from)
	return nil
}

// Memory is one node's sender on a Bus.
type Memory struct {
	bus  *Bus
	addr string
}

// Send delivers the envelope to the node registered at addr.
func (m *Memory) Send(_ context.Context, addr string, env wire.Envelope) error {
	return m.bus.deliver(addr, m.addr, env)
}

// Broadcast delivers the envelope to every other node on the bus.
func (m *Memory) Broadcast(_ context.Context, env wire.Envelope) error {
	m.bus.mu.RLock()
	addrs := make([]string, 0, len(m.bus.nodes))
	for addr := range m.bus.nodes {
		if addr != m.addr {
			addrs = append(addrs, addr)
		}
	}
	m.bus.mu.RUnlock()

	for _, addr := range addrs {
		// Best effort, same as a real broadcast.
		_ = m.bus.deliver(addr, m.addr, env)
	}
	return nil
}
