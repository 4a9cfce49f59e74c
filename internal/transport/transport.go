package transport

import (
	"context"

	"github.com/parley-proto/parley/internal/wire"
)

// Handler receives one inbound envelope along with the remote address it
// arrived from. Implementations must not block: the engine's Deliver only
// enqueues.
type Handler func(env wire.Envelope, addr string)

// Sender is the outbound half consumed by the engine.
type Sender interface {
	// Send delivers one envelope to a specific peer address.
	Send(ctx context.Context, addr string, env wire.Envelope) error

	// Broadcast delivers one envelope to every bootstrap address. Used for
	// the per-tick register advertisement; individual delivery failures are
	// expected (peers come and go) and do not fail the broadcast.
	Broadcast(ctx context.Context, env wire.Envelope) error
}
