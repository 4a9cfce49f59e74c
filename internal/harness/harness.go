package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/parley-proto/parley/internal/engine"
	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
	"github.com/parley-proto/parley/internal/testutil"
	"github.com/parley-proto/parley/internal/transport"
	"github.com/parley-proto/parley/internal/wire"
)

// node is one running participant: a real engine over an in-memory store.
type node struct {
	id  string
	eng *engine.Engine
	st  *store.Store
}

// recorder appends every observed envelope to the trace in delivery order.
type recorder struct {
	seq    int64
	events []TraceEvent
}

func (r *recorder) record(env wire.Envelope, addr string) {
	r.seq++
	r.events = append(r.events, TraceEvent{
		Seq:       r.seq,
		From:      env.From,
		To:        env.To,
		Intent:    env.Intent,
		YourNonce: env.YourNonce,
		MyNonce:   env.MyNonce,
		YourRef:   env.YourRef,
		MyRef:     env.MyRef,
		Addr:      addr,
	})
}

// Run executes a scenario and returns the trace, final state, and assertion
// outcome. Execution errors (bad setup, store failures) are returned as
// errors; assertion failures land in Result.Errors with Pass=false.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	bus := transport.NewBus()
	rec := &recorder{}

	nodes := make(map[string]*node, len(scenario.Nodes))
	for _, spec := range scenario.Nodes {
		st, err := store.Open(":memory:", spec.ID)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", spec.ID, err)
		}
		defer st.Close()

		n := &node{id: spec.ID, st: st}
		sender := bus.Attach(spec.Addr, func(env wire.Envelope, from string) {
			rec.record(env, from)
			_ = n.eng.Process(ctx, engine.Inbound{Env: env, Addr: from})
		})

		opts := []engine.Option{}
		if scenario.Limits != nil {
			opts = append(opts, engine.WithLimits(*scenario.Limits))
		}
		n.eng = engine.New(st, testutil.NewFixedTokens(), sender, opts...)
		nodes[spec.ID] = n
	}

	for i, step := range scenario.Setup {
		if err := applySetup(ctx, nodes[step.Node].st, step); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	for i, step := range scenario.Steps {
		switch {
		case step.Tick != "":
			if err := nodes[step.Tick].eng.Sweep(ctx); err != nil {
				return nil, fmt.Errorf("steps[%d] tick %s: %w", i, step.Tick, err)
			}
		case step.Deliver != nil:
			d := step.Deliver
			env := wire.Envelope{
				From:      d.Envelope.From,
				To:        d.Envelope.To,
				Intent:    d.Envelope.Intent,
				YourNonce: d.Envelope.YourNonce,
				MyNonce:   d.Envelope.MyNonce,
				YourRef:   d.Envelope.YourRef,
				MyRef:     d.Envelope.MyRef,
			}
			rec.record(env, d.Addr)
			if err := nodes[d.Node].eng.Process(ctx, engine.Inbound{Env: env, Addr: d.Addr}); err != nil {
				return nil, fmt.Errorf("steps[%d] deliver: %w", i, err)
			}
		}
	}

	result := NewResult()
	result.Trace = rec.events

	if err := collectState(ctx, nodes, result); err != nil {
		return nil, err
	}

	runAssertions(scenario, result)
	return result, nil
}

// applySetup seeds one conversation record.
func applySetup(ctx context.Context, st *store.Store, step SetupStep) error {
	role := session.Role(step.Role)
	if _, err := st.Ensure(ctx, role, step.Peer, role.DefaultPhase()); err != nil {
		return err
	}

	var fields session.Fields
	if step.Phase != "" {
		fields.Phase = session.PhasePtr(session.Phase(step.Phase))
	}
	if step.LocalNonce != "" {
		fields.LocalNonce = session.StringPtr(step.LocalNonce)
	}
	if step.PeerNonce != "" {
		fields.PeerNonce = session.StringPtr(step.PeerNonce)
	}
	if step.LocalRef != "" {
		fields.LocalRef = session.StringPtr(step.LocalRef)
	}
	if step.PeerRef != "" {
		fields.PeerRef = session.StringPtr(step.PeerRef)
	}
	if step.ExchangeCount != 0 {
		fields.ExchangeCount = session.IntPtr(step.ExchangeCount)
	}
	if step.FinalizeRetries != 0 {
		fields.FinalizeRetries = session.IntPtr(step.FinalizeRetries)
	}
	if step.LastAddr != "" {
		fields.LastAddr = session.StringPtr(step.LastAddr)
	}
	if fields.IsZero() {
		return nil
	}
	return st.Update(ctx, role, step.Peer, fields)
}

// collectState snapshots every conversation record, keyed "node/role/peer".
// Keys are emitted in sorted order so serialization is deterministic.
func collectState(ctx context.Context, nodes map[string]*node, result *Result) error {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		convs, err := nodes[id].st.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("collect state %s: %w", id, err)
		}
		for _, conv := range convs {
			key := fmt.Sprintf("%s/%s/%s", id, conv.Role, conv.PeerID)
			result.State[key] = ConversationState{
				Phase:           string(conv.Phase),
				LocalNonce:      conv.LocalNonce,
				PeerNonce:       conv.PeerNonce,
				LocalRef:        conv.LocalRef,
				PeerRef:         conv.PeerRef,
				ExchangeCount:   conv.ExchangeCount,
				FinalizeRetries: conv.FinalizeRetries,
			}
		}
	}
	return nil
}
