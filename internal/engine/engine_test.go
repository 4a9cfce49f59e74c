package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
	"github.com/parley-proto/parley/internal/testutil"
	"github.com/parley-proto/parley/internal/wire"
)

// capture records every envelope the engine hands to the transport.
type capture struct {
	sent      []sentEnvelope
	broadcast []wire.Envelope
}

type sentEnvelope struct {
	addr string
	env  wire.Envelope
}

func (c *capture) Send(_ context.Context, addr string, env wire.Envelope) error {
	c.sent = append(c.sent, sentEnvelope{addr: addr, env: env})
	return nil
}

func (c *capture) Broadcast(_ context.Context, env wire.Envelope) error {
	c.broadcast = append(c.broadcast, env)
	return nil
}

func (c *capture) reset() {
	c.sent = nil
	c.broadcast = nil
}

// lastSent returns the most recent directed envelope.
func (c *capture) lastSent(t *testing.T) wire.Envelope {
	t.Helper()
	require.NotEmpty(t, c.sent, "expected at least one directed send")
	return c.sent[len(c.sent)-1].env
}

func newTestEngine(t *testing.T, selfID string) (*Engine, *store.Store, *capture) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), selfID)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sender := &capture{}
	eng := New(st, testutil.NewFixedTokens(), sender)
	return eng, st, sender
}

// deliver processes an inbound envelope addressed to the engine's node.
func deliver(t *testing.T, eng *Engine, env wire.Envelope) {
	t.Helper()
	if env.To == "" && env.Intent != wire.IntentRegister {
		env.To = "node-a"
	}
	require.NoError(t, eng.Process(context.Background(), Inbound{Env: env, Addr: "addr-p"}))
}

func TestProcess_ConfirmStartsExchange(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-a")
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-a", Intent: wire.IntentConfirm, MyNonce: "AAA"})

	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseExchanging, conv.Phase)
	assert.Equal(t, "AAA", conv.PeerNonce)
	assert.Equal(t, 0, conv.ExchangeCount)
	assert.Equal(t, "addr-p", conv.LastAddr, "accepted transition must record the peer address")

	events, err := st.ReadNonces(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, session.FlowReceived, events[0].Flow)
	assert.Equal(t, "AAA", events[0].Nonce)
}

func TestProcess_EnsurePhaseNeverEmpty(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-a")
	ctx := context.Background()

	// A register from an unknown peer lazily creates the responder record.
	deliver(t, eng, wire.Envelope{From: "peer-9", Intent: wire.IntentRegister})

	conv, err := st.Get(ctx, session.RoleResponder, "peer-9")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.Phase)
}

func TestProcess_StaleEchoLeavesRecordUnchanged(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-a", Intent: wire.IntentConfirm, MyNonce: "AAA"})
	require.NoError(t, eng.Sweep(ctx)) // emits request, mints local nonce "111"
	sender.reset()

	before, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	require.Equal(t, "111", before.LocalNonce)

	// Wrong echo: ignored, not an error, record byte-for-byte unchanged.
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-a", Intent: wire.IntentRespond,
		YourNonce: "999", MyNonce: "BBB",
	})

	after, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProcess_ValidatorDropsWithoutStateChange(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-a")
	ctx := context.Background()

	// Addressed to someone else entirely.
	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-z", Intent: wire.IntentConfirm, MyNonce: "AAA"})

	_, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweep_RetriedSendReoffersSameNonce(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-a", Intent: wire.IntentConfirm, MyNonce: "AAA"})

	require.NoError(t, eng.Sweep(ctx))
	first := sender.lastSent(t)
	assert.Equal(t, wire.IntentRequest, first.Intent)
	assert.Equal(t, "AAA", first.YourNonce)
	assert.Equal(t, "111", first.MyNonce)

	sender.reset()
	require.NoError(t, eng.Sweep(ctx))
	second := sender.lastSent(t)
	assert.Equal(t, "111", second.MyNonce, "retry must re-offer the outstanding challenge, not mint a new one")

	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.ExchangeCount, "each attempt increments the counter exactly once")
}

func TestSweep_SkipsUnmetPreconditions(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	// Exchanging with no peer nonce: nothing can be echoed yet.
	_, err := st.Ensure(ctx, session.RoleInitiator, "peer-1", session.PhaseReady)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, session.RoleInitiator, "peer-1", session.Fields{
		Phase:    session.PhasePtr(session.PhaseExchanging),
		LastAddr: session.StringPtr("addr-p"),
	}))

	require.NoError(t, eng.Sweep(ctx))
	assert.Empty(t, sender.sent)

	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.ExchangeCount, "a skipped tick must not burn an attempt")
	assert.Empty(t, conv.LocalNonce, "a skipped tick must not mint a token")
}

func TestSweep_BroadcastsRegisterEveryTick(t *testing.T) {
	eng, _, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	require.NoError(t, eng.Sweep(ctx))
	require.NoError(t, eng.Sweep(ctx))

	require.Len(t, sender.broadcast, 2)
	for _, env := range sender.broadcast {
		assert.Equal(t, wire.IntentRegister, env.Intent)
		assert.Equal(t, "node-a", env.From)
		assert.True(t, env.Broadcast())
	}
}

// driveExchange walks the initiator from a fresh confirm through n
// request/respond round trips.
func driveExchange(t *testing.T, eng *Engine, sender *capture, rounds int) {
	t.Helper()
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-a", Intent: wire.IntentConfirm, MyNonce: "AAA"})
	for i := 0; i < rounds; i++ {
		sender.reset()
		require.NoError(t, eng.Sweep(ctx))
		req := sender.lastSent(t)
		require.Equal(t, wire.IntentRequest, req.Intent)
		deliver(t, eng, wire.Envelope{
			From: "peer-1", To: "node-a", Intent: wire.IntentRespond,
			YourNonce: req.MyNonce, MyNonce: "BBB",
		})
	}
}

func TestCutover_GuaranteedAtExchangeLimit(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	// Rounds 1-3 stay in exchanging; after the 4th request the counter is
	// past the limit, and the next valid respond must advance.
	driveExchange(t, eng, sender, 3)

	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseExchanging, conv.Phase)
	require.Equal(t, 3, conv.ExchangeCount)

	sender.reset()
	require.NoError(t, eng.Sweep(ctx))
	req := sender.lastSent(t)

	conv, err = st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	require.Equal(t, 4, conv.ExchangeCount)

	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-a", Intent: wire.IntentRespond,
		YourNonce: req.MyNonce, MyNonce: "FINAL",
	})

	conv, err = st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseProposing, conv.Phase, "cut-over is guaranteed, not best-effort")
	assert.Equal(t, 0, conv.ExchangeCount)
	assert.Equal(t, "FINAL", conv.PeerNonce)
}

func TestFinish_EchoGatesAndPurgesLedger(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	driveExchange(t, eng, sender, 4) // fourth respond triggers the cut-over

	sender.reset()
	require.NoError(t, eng.Sweep(ctx)) // emits conclude, mints REF-1
	conclude := sender.lastSent(t)
	require.Equal(t, wire.IntentConclude, conclude.Intent)
	require.Equal(t, "REF-1", conclude.MyRef)

	// Wrong reference echo: ignored.
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-a", Intent: wire.IntentFinish,
		YourRef: "REF-WRONG", MyRef: "REF-P",
	})
	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseProposing, conv.Phase)

	// Correct echo: advance, store the counter-proposal, purge the ledger.
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-a", Intent: wire.IntentFinish,
		YourRef: "REF-1", MyRef: "REF-P",
	})
	conv, err = st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseClosing, conv.Phase)
	assert.Equal(t, "REF-P", conv.PeerRef)
	assert.Equal(t, 0, conv.FinalizeRetries)

	events, err := st.ReadNonces(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Empty(t, events, "successful finalize purges the nonce ledger")
}

func TestClosing_ResetPreservesReferences(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-a")
	ctx := context.Background()

	driveExchange(t, eng, sender, 4)
	require.NoError(t, eng.Sweep(ctx)) // conclude
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-a", Intent: wire.IntentFinish,
		YourRef: "REF-1", MyRef: "REF-P",
	})

	// Close retries until the budget is exhausted, then a reset tick.
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Sweep(ctx))
	}

	conv, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseReady, conv.Phase)
	assert.Empty(t, conv.LocalNonce)
	assert.Empty(t, conv.PeerNonce)
	assert.Equal(t, 0, conv.ExchangeCount)
	assert.Equal(t, 0, conv.FinalizeRetries)
	assert.Equal(t, "REF-1", conv.LocalRef, "initiator keeps its reference for reconnect")
	assert.Equal(t, "REF-P", conv.PeerRef, "initiator keeps the peer reference for reconnect")

	// The next sweep offers resumption via the preserved reference.
	sender.reset()
	require.NoError(t, eng.Sweep(ctx))
	reconnect := sender.lastSent(t)
	assert.Equal(t, wire.IntentReconnect, reconnect.Intent)
	assert.Equal(t, "REF-P", reconnect.YourRef)
}
