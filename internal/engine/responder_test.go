package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
	"github.com/parley-proto/parley/internal/wire"
)

func TestResponder_RegisterThenConfirm(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-b")
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", Intent: wire.IntentRegister})

	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseConfirming, conv.Phase)

	require.NoError(t, eng.Sweep(ctx))
	confirm := sender.lastSent(t)
	assert.Equal(t, wire.IntentConfirm, confirm.Intent)
	assert.Equal(t, "111", confirm.MyNonce)
	assert.Equal(t, "node-b", confirm.From)

	// A retried confirm re-offers the same challenge.
	sender.reset()
	require.NoError(t, eng.Sweep(ctx))
	assert.Equal(t, "111", sender.lastSent(t).MyNonce)

	events, err := st.ReadNonces(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, session.FlowSent, events[0].Flow)
}

func TestResponder_RegisterIgnoredWhileReferenceHeld(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-b")
	ctx := context.Background()

	_, err := st.Ensure(ctx, session.RoleResponder, "peer-1", session.PhaseReady)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, session.RoleResponder, "peer-1", session.Fields{
		LocalRef: session.StringPtr("REF-X"),
	}))

	deliver(t, eng, wire.Envelope{From: "peer-1", Intent: wire.IntentRegister})

	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseReady, conv.Phase, "a finished peer must reconnect, not re-register")
	assert.Equal(t, "REF-X", conv.LocalRef)
}

func TestResponder_ReconnectRequiresMatchingReference(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-b")
	ctx := context.Background()

	_, err := st.Ensure(ctx, session.RoleResponder, "peer-1", session.PhaseReady)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, session.RoleResponder, "peer-1", session.Fields{
		LocalRef: session.StringPtr("REF-X"),
	}))

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-b", Intent: wire.IntentReconnect, YourRef: "REF-WRONG"})
	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseReady, conv.Phase)

	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-b", Intent: wire.IntentReconnect, YourRef: "REF-X"})
	conv, err = st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseConfirming, conv.Phase)
	assert.Empty(t, conv.LocalRef, "a fresh reference is minted during the next finalize")
}

func TestResponder_FirstRequestGatedByEcho(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-b")
	ctx := context.Background()

	deliver(t, eng, wire.Envelope{From: "peer-1", Intent: wire.IntentRegister})
	require.NoError(t, eng.Sweep(ctx)) // confirm with nonce "111"
	sender.reset()

	// Wrong echo first.
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-b", Intent: wire.IntentRequest,
		YourNonce: "999", MyNonce: "AAA",
	})
	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseConfirming, conv.Phase)

	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-b", Intent: wire.IntentRequest,
		YourNonce: "111", MyNonce: "AAA",
	})
	conv, err = st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseExchanging, conv.Phase)
	assert.Equal(t, 1, conv.ExchangeCount)
	assert.Equal(t, "AAA", conv.PeerNonce)
	assert.Empty(t, conv.LocalNonce)

	require.NoError(t, eng.Sweep(ctx))
	respond := sender.lastSent(t)
	assert.Equal(t, wire.IntentRespond, respond.Intent)
	assert.Equal(t, "AAA", respond.YourNonce)
	assert.Equal(t, "222", respond.MyNonce)
}

func TestResponder_CutoverKeepsNonceForLateConclude(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-b")
	ctx := context.Background()

	_, err := st.Ensure(ctx, session.RoleResponder, "peer-1", session.PhaseReady)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, session.RoleResponder, "peer-1", session.Fields{
		Phase:         session.PhasePtr(session.PhaseExchanging),
		LocalNonce:    session.StringPtr("555"),
		ExchangeCount: session.IntPtr(4),
		LastAddr:      session.StringPtr("addr-p"),
	}))

	// Past the limit the same valid request forces the cut-over, and the
	// outstanding nonce survives so the conclude can still be verified.
	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-b", Intent: wire.IntentRequest,
		YourNonce: "555", MyNonce: "AAA",
	})
	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Equal(t, session.PhaseFinalizing, conv.Phase)
	require.Equal(t, 0, conv.ExchangeCount)
	require.Equal(t, "555", conv.LocalNonce)
	require.Empty(t, conv.PeerRef)

	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-b", Intent: wire.IntentConclude,
		YourNonce: "555", MyRef: "REF-I",
	})
	conv, err = st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	require.Equal(t, "REF-I", conv.PeerRef)
	require.Empty(t, conv.LocalNonce)

	require.NoError(t, eng.Sweep(ctx))
	finish := sender.lastSent(t)
	require.Equal(t, wire.IntentFinish, finish.Intent)
	assert.Equal(t, "REF-I", finish.YourRef)
	assert.Equal(t, "REF-1", finish.MyRef)

	deliver(t, eng, wire.Envelope{
		From: "peer-1", To: "node-b", Intent: wire.IntentClose,
		YourRef: "REF-1", MyRef: "REF-I",
	})
	conv, err = st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseReady, conv.Phase)
	assert.Equal(t, "REF-1", conv.LocalRef, "responder keeps its reference as the reconnect key")
	assert.Equal(t, "REF-I", conv.PeerRef)
	assert.Empty(t, conv.LocalNonce)
	assert.Empty(t, conv.PeerNonce)

	events, err := st.ReadNonces(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Empty(t, events, "successful close purges the nonce ledger")

	// A follow-up register is now refused; only reconnect reopens.
	sweepBefore := conv
	deliver(t, eng, wire.Envelope{From: "peer-1", Intent: wire.IntentRegister})
	conv, err = st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, sweepBefore, conv)
}

func TestResponder_FinalizeExhaustionWipesEverything(t *testing.T) {
	eng, st, sender := newTestEngine(t, "node-b")
	ctx := context.Background()

	_, err := st.Ensure(ctx, session.RoleResponder, "peer-1", session.PhaseReady)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, session.RoleResponder, "peer-1", session.Fields{
		Phase:           session.PhasePtr(session.PhaseFinalizing),
		LocalRef:        session.StringPtr("REF-MINE"),
		PeerRef:         session.StringPtr("REF-THEIRS"),
		FinalizeRetries: session.IntPtr(4),
		LastAddr:        session.StringPtr("addr-p"),
	}))

	require.NoError(t, eng.Sweep(ctx))
	assert.Empty(t, sender.sent)

	conv, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseReady, conv.Phase)
	assert.Empty(t, conv.LocalRef, "abandonment wipes references on the responder side")
	assert.Empty(t, conv.PeerRef)
	assert.Equal(t, 0, conv.FinalizeRetries)
}

func TestResponder_RolesAreIndependent(t *testing.T) {
	eng, st, _ := newTestEngine(t, "node-b")
	ctx := context.Background()

	// The same peer can be mid-exchange as our responder counterpart while
	// we also initiate toward it. The records never touch.
	deliver(t, eng, wire.Envelope{From: "peer-1", Intent: wire.IntentRegister})
	deliver(t, eng, wire.Envelope{From: "peer-1", To: "node-b", Intent: wire.IntentConfirm, MyNonce: "AAA"})

	resp, err := st.Get(ctx, session.RoleResponder, "peer-1")
	require.NoError(t, err)
	init, err := st.Get(ctx, session.RoleInitiator, "peer-1")
	require.NoError(t, err)

	assert.Equal(t, session.PhaseConfirming, resp.Phase)
	assert.Equal(t, session.PhaseExchanging, init.Phase)
	assert.Empty(t, resp.PeerNonce)
	assert.Equal(t, "AAA", init.PeerNonce)
}

// Unknown-store errors should not be silently swallowed by Process.
func TestProcess_SurfacesStoreErrors(t *testing.T) {
	st, err := store.Open(t.TempDir()+"/test.db", "node-b")
	require.NoError(t, err)
	sender := &capture{}
	eng := New(st, UUIDGenerator{}, sender)
	require.NoError(t, st.Close())

	err = eng.Process(context.Background(), Inbound{
		Env:  wire.Envelope{From: "peer-1", Intent: wire.IntentRegister},
		Addr: "addr-p",
	})
	assert.Error(t, err)
}
