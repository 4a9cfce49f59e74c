package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
	"github.com/parley-proto/parley/internal/wire"
)

// Sender is the transport surface the engine needs: directed sends to a
// known address and a liveness broadcast to undiscovered peers. Implemented
// by transport.QUIC (production) and transport.Memory (tests).
type Sender interface {
	Send(ctx context.Context, addr string, env wire.Envelope) error
	Broadcast(ctx context.Context, env wire.Envelope) error
}

// DefaultTickInterval is how often the outbound sweep runs.
const DefaultTickInterval = 2 * time.Second

// Engine is the single-writer handshake event loop.
//
// Transports call Deliver() from any goroutine; Run() processes every
// inbound envelope and every outbound sweep in one goroutine, so each
// read-check-write transition is atomic per (self, role, peer) key and the
// sweep never races an inbound handler.
type Engine struct {
	store  *store.Store
	clock  *Clock
	queue  *inboundQueue
	tokens TokenGenerator
	sender Sender
	selfID string
	limits session.Limits
	tick   time.Duration
}

// Option configures engine parameters.
type Option func(*Engine)

// WithLimits overrides the retry policy.
func WithLimits(lim session.Limits) Option {
	return func(e *Engine) {
		e.limits = lim
	}
}

// WithTickInterval overrides the outbound sweep interval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.tick = d
	}
}

// New creates an Engine over the given store, token generator, and sender.
func New(s *store.Store, tokens TokenGenerator, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  NewClock(),
		queue:  newInboundQueue(),
		tokens: tokens,
		sender: sender,
		selfID: s.SelfID(),
		limits: session.DefaultLimits(),
		tick:   DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver submits an inbound envelope for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Deliver(env wire.Envelope, addr string) bool {
	return e.queue.Enqueue(Inbound{Env: env, Addr: addr})
}

// QueueLen returns the number of pending deliveries.
// Useful for monitoring and testing.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Run starts the single-writer loop: inbound envelopes between sweep ticks,
// one sweep per tick. Blocks until the context is cancelled or Stop() is
// called.
//
// Processing failures are logged and processing continues: a handshake is
// self-healing under retry, so a failed write on one envelope must not stall
// every other peer.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "self", e.selfID, "tick", e.tick)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		in, ok := e.queue.TryDequeue()
		if ok {
			if err := e.Process(ctx, in); err != nil {
				slog.Error("inbound processing failed",
					"error", err,
					"from", in.Env.From,
					"intent", in.Env.Intent,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				slog.Error("outbound sweep failed", "error", err)
			}

		case <-e.queue.Wait():
			// Signal received - loop back to TryDequeue. The signal
			// channel closes when the queue is closed.
			if e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the inbound queue, which will cause Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Process handles one inbound delivery: validate, route by (role, phase,
// intent), apply the transition if the echo checks pass. Exported so tests
// and the harness can drive the machines deterministically without Run().
//
// Drops (malformed envelope, unroutable intent, stale echo) return nil:
// they are protocol noise, not errors.
func (e *Engine) Process(ctx context.Context, in Inbound) error {
	env := in.Env

	if reason := wire.Validate(env, e.selfID); reason != wire.DropNone {
		slog.Debug("envelope dropped", "reason", string(reason), "from", env.From, "intent", env.Intent)
		return nil
	}

	role, ok := roleForIntent(env.Intent)
	if !ok {
		slog.Debug("envelope dropped", "reason", "unroutable intent", "intent", env.Intent)
		return nil
	}

	conv, err := e.store.Ensure(ctx, role, env.From, role.DefaultPhase())
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	handler, ok := transitions[route{role, conv.Phase, env.Intent}]
	if !ok {
		slog.Debug("envelope dropped",
			"reason", "no transition",
			"role", string(role), "phase", string(conv.Phase), "intent", env.Intent,
		)
		return nil
	}

	tr, accepted := handler(e.limits, conv, env)
	if !accepted {
		slog.Debug("envelope ignored: echo mismatch",
			"role", string(role), "phase", string(conv.Phase),
			"intent", env.Intent, "peer", env.From,
		)
		return nil
	}

	// Every accepted transition records where the peer was heard from.
	if in.Addr != "" {
		tr.fields.LastAddr = session.StringPtr(in.Addr)
	}

	if err := e.store.Update(ctx, role, env.From, tr.fields); err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	if tr.record != "" {
		if err := e.store.RecordNonce(ctx, role, env.From, session.FlowReceived, tr.record, e.clock.Next()); err != nil {
			return fmt.Errorf("record nonce: %w", err)
		}
	}
	if tr.purge {
		if err := e.store.PurgeNonces(ctx, role, env.From); err != nil {
			return fmt.Errorf("purge nonces: %w", err)
		}
	}

	newPhase := conv.Phase
	if tr.fields.Phase != nil {
		newPhase = *tr.fields.Phase
	}
	slog.Info("transition accepted",
		"role", string(role), "peer", env.From, "intent", env.Intent,
		"from_phase", string(conv.Phase), "to_phase", string(newPhase),
	)

	return nil
}

// Sweep is one outbound tick: emit the liveness broadcast, then walk every
// conversation in both roles and send at most one envelope each. Unmet
// preconditions skip the peer this tick; counters increment exactly once per
// attempt. Exported for the harness and tests.
func (e *Engine) Sweep(ctx context.Context) error {
	// Liveness broadcast for peers we have no conversation with yet.
	reg := wire.Envelope{From: e.selfID, Intent: wire.IntentRegister}
	if err := e.sender.Broadcast(ctx, reg); err != nil {
		slog.Debug("register broadcast failed", "error", err)
	}

	for _, role := range session.Roles {
		convs, err := e.store.List(ctx, role)
		if err != nil {
			return fmt.Errorf("sweep %s: %w", role, err)
		}
		for _, conv := range convs {
			if err := e.sweepOne(ctx, role, conv); err != nil {
				return fmt.Errorf("sweep %s %s: %w", role, conv.PeerID, err)
			}
		}
	}

	return nil
}

// sweepOne applies the outbound step for a single conversation: persist the
// deltas (minted token, counter, or forced reset) first, then attempt the
// send. An envelope that never leaves the process is simply discarded; the
// retry counters provide liveness, not send durability.
func (e *Engine) sweepOne(ctx context.Context, role session.Role, conv session.Conversation) error {
	var out outbound
	switch role {
	case session.RoleInitiator:
		out = buildInitiator(e.limits, e.tokens, conv)
	case session.RoleResponder:
		out = buildResponder(e.limits, e.tokens, conv)
	}

	if out.env == nil && out.fields.IsZero() {
		return nil
	}

	// An unknown peer address is an unmet send precondition like any other:
	// skip the whole attempt so no counter advances and no token is burned.
	// Forced resets (no envelope) still apply.
	if out.env != nil && conv.LastAddr == "" {
		slog.Debug("send skipped: no known address",
			"role", string(role), "peer", conv.PeerID, "intent", out.env.Intent,
		)
		return nil
	}

	if !out.fields.IsZero() {
		if err := e.store.Update(ctx, role, conv.PeerID, out.fields); err != nil {
			return fmt.Errorf("apply sweep fields: %w", err)
		}
	}
	if out.fields.Phase != nil {
		slog.Info("phase reset",
			"role", string(role), "peer", conv.PeerID,
			"from_phase", string(conv.Phase), "to_phase", string(*out.fields.Phase),
		)
	}

	if out.env == nil {
		return nil
	}

	if out.record != "" {
		if err := e.store.RecordNonce(ctx, role, conv.PeerID, session.FlowSent, out.record, e.clock.Next()); err != nil {
			return fmt.Errorf("record nonce: %w", err)
		}
	}

	env := *out.env
	env.From = e.selfID

	if err := e.sender.Send(ctx, conv.LastAddr, env); err != nil {
		slog.Debug("send failed",
			"role", string(role), "peer", conv.PeerID,
			"intent", env.Intent, "addr", conv.LastAddr, "error", err,
		)
	}

	return nil
}
