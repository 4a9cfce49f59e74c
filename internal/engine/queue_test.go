package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-proto/parley/internal/wire"
)

func TestInboundQueue_FIFO(t *testing.T) {
	q := newInboundQueue()

	for _, from := range []string{"p1", "p2", "p3"} {
		require.True(t, q.Enqueue(Inbound{Env: wire.Envelope{From: from}}))
	}

	for _, want := range []string{"p1", "p2", "p3"} {
		in, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, in.Env.From)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestInboundQueue_EnqueueAfterCloseRefused(t *testing.T) {
	q := newInboundQueue()
	q.Close()
	assert.False(t, q.Enqueue(Inbound{Env: wire.Envelope{From: "p1"}}))
}

func TestInboundQueue_SignalWakes(t *testing.T) {
	q := newInboundQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	require.True(t, q.Enqueue(Inbound{Env: wire.Envelope{From: "p1"}}))
	<-done
}

func TestInboundQueue_ConcurrentProducers(t *testing.T) {
	q := newInboundQueue()

	var wg sync.WaitGroup
	const producers, each = 8, 50
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				q.Enqueue(Inbound{Env: wire.Envelope{From: "p"}})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*each, q.Len())
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	prev := int64(0)
	for i := 0; i < 100; i++ {
		next := c.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
	assert.Equal(t, prev, c.Current())
}

func TestUUIDGenerator_TokensDistinct(t *testing.T) {
	gen := UUIDGenerator{}

	n1, n2 := gen.Nonce(), gen.Nonce()
	assert.NotEqual(t, n1, n2)
	assert.NotEmpty(t, n1)

	r := gen.Reference()
	assert.Contains(t, r, "ref-")
	assert.NotEqual(t, r, gen.Reference())
}
