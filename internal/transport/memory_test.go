package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-proto/parley/internal/wire"
)

type received struct {
	env  wire.Envelope
	from string
}

func attach(t *testing.T, bus *Bus, addr string) (*Memory, *[]received) {
	t.Helper()
	var got []received
	m := bus.Attach(addr, func(env wire.Envelope, from string) {
		got = append(got, received{env: env, from: from})
	})
	return m, &got
}

func TestBus_DirectedSend(t *testing.T) {
	bus := NewBus()
	a, _ := attach(t, bus, "addr-a")
	_, gotB := attach(t, bus, "addr-b")

	env := wire.Envelope{From: "node-a", To: "node-b", Intent: wire.IntentConfirm, MyNonce: "AAA"}
	require.NoError(t, a.Send(context.Background(), "addr-b", env))

	require.Len(t, *gotB, 1)
	assert.Equal(t, env, (*gotB)[0].env)
	assert.Equal(t, "addr-a", (*gotB)[0].from, "receiver sees the sender's bus address")
}

func TestBus_SendToUnknownAddr(t *testing.T) {
	bus := NewBus()
	a, _ := attach(t, bus, "addr-a")

	err := a.Send(context.Background(), "addr-missing", wire.Envelope{Intent: wire.IntentConfirm})
	assert.Error(t, err)
}

func TestBus_BroadcastSkipsSelf(t *testing.T) {
	bus := NewBus()
	a, gotA := attach(t, bus, "addr-a")
	_, gotB := attach(t, bus, "addr-b")
	_, gotC := attach(t, bus, "addr-c")

	env := wire.Envelope{From: "node-a", Intent: wire.IntentRegister}
	require.NoError(t, a.Broadcast(context.Background(), env))

	assert.Empty(t, *gotA)
	require.Len(t, *gotB, 1)
	require.Len(t, *gotC, 1)
	assert.Equal(t, env, (*gotB)[0].env)
}

func TestBus_Detach(t *testing.T) {
	bus := NewBus()
	a, _ := attach(t, bus, "addr-a")
	_, gotB := attach(t, bus, "addr-b")

	bus.Detach("addr-b")
	err := a.Send(context.Background(), "addr-b", wire.Envelope{Intent: wire.IntentConfirm})
	assert.Error(t, err)
	assert.Empty(t, *gotB)
}
