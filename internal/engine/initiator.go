package engine

import (
	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/wire"
)

// Initiator machine: ready → exchanging → proposing → closing → ready.
//
// Inbound handlers verify that the echoed value matches the single expected
// local value before touching the record; the outbound builder below emits
// at most one envelope per sweep.

// initiatorConfirm handles confirm{my_nonce} in ready. Accepted
// unconditionally: nothing is committed yet, so any challenge starts a
// fresh exchange.
func initiatorConfirm(_ session.Limits, _ session.Conversation, env wire.Envelope) (transition, bool) {
	if env.MyNonce == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:         session.PhasePtr(session.PhaseExchanging),
			PeerNonce:     session.StringPtr(env.MyNonce),
			ExchangeCount: session.IntPtr(0),
		},
		record: env.MyNonce,
	}, true
}

// initiatorRespond handles respond{your_nonce, my_nonce} in exchanging.
// The echo must match our outstanding challenge; a correct echo proves the
// peer saw our most recent request. Within the exchange limit the loop
// continues; past it the same valid respond forces the cut-over to
// proposing. The cut-over is guaranteed, not best-effort.
func initiatorRespond(lim session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalNonce == "" || env.YourNonce != conv.LocalNonce || env.MyNonce == "" {
		return transition{}, false
	}

	if conv.ExchangeCount <= lim.Exchange {
		return transition{
			fields: session.Fields{
				PeerNonce:  session.StringPtr(env.MyNonce),
				LocalNonce: session.StringPtr(""),
			},
			record: env.MyNonce,
		}, true
	}

	return transition{
		fields: session.Fields{
			Phase:         session.PhasePtr(session.PhaseProposing),
			PeerNonce:     session.StringPtr(env.MyNonce),
			LocalNonce:    session.StringPtr(""),
			ExchangeCount: session.IntPtr(0),
		},
		record: env.MyNonce,
	}, true
}

// initiatorFinish handles finish{your_ref, my_ref} in proposing. The echoed
// reference must match the one we proposed in conclude. Acceptance purges
// the nonce ledger: the exchange succeeded.
func initiatorFinish(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalRef == "" || env.YourRef != conv.LocalRef || env.MyRef == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:           session.PhasePtr(session.PhaseClosing),
			PeerRef:         session.StringPtr(env.MyRef),
			FinalizeRetries: session.IntPtr(0),
		},
		purge: true,
	}, true
}

// outbound is what a sweep produced for one conversation: the envelope to
// send (nil when the phase has nothing to say or a precondition is unmet),
// field deltas to persist (minted tokens, counter increments, resets), and
// an optional nonce to append to the ledger as sent.
type outbound struct {
	env    *wire.Envelope
	fields session.Fields
	record string
}

// buildInitiator computes the initiator's outbound step for one
// conversation. Tokens are minted only when the stored slot is empty, so a
// retried send re-offers the same outstanding challenge rather than issuing
// a new one.
func buildInitiator(lim session.Limits, tokens TokenGenerator, conv session.Conversation) outbound {
	switch conv.Phase {
	case session.PhaseReady:
		// A held peer reference enables resumption without renegotiation.
		// Peers we have no session with are reached by the broadcast
		// register instead.
		if conv.PeerRef == "" {
			return outbound{}
		}
		return outbound{
			env: &wire.Envelope{
				To:      conv.PeerID,
				Intent:  wire.IntentReconnect,
				YourRef: conv.PeerRef,
			},
		}

	case session.PhaseExchanging:
		if conv.PeerNonce == "" {
			return outbound{}
		}
		var fields session.Fields
		nonce := conv.LocalNonce
		if nonce == "" {
			nonce = tokens.Nonce()
			fields.LocalNonce = session.StringPtr(nonce)
		}
		fields.ExchangeCount = session.IntPtr(conv.ExchangeCount + 1)
		return outbound{
			env: &wire.Envelope{
				To:        conv.PeerID,
				Intent:    wire.IntentRequest,
				YourNonce: conv.PeerNonce,
				MyNonce:   nonce,
			},
			fields: fields,
			record: nonce,
		}

	case session.PhaseProposing:
		if conv.PeerNonce == "" {
			return outbound{}
		}
		var fields session.Fields
		ref := conv.LocalRef
		if ref == "" {
			ref = tokens.Reference()
			fields.LocalRef = session.StringPtr(ref)
		}
		fields.FinalizeRetries = session.IntPtr(conv.FinalizeRetries + 1)
		return outbound{
			env: &wire.Envelope{
				To:        conv.PeerID,
				Intent:    wire.IntentConclude,
				YourNonce: conv.PeerNonce,
				MyRef:     ref,
			},
			fields: fields,
		}

	case session.PhaseClosing:
		// Retry budget exhausted: reset to ready but preserve both
		// references so a later reconnect can skip renegotiation.
		if conv.FinalizeRetries > lim.Finalize {
			return outbound{
				fields: session.Fields{
					Phase:           session.PhasePtr(session.PhaseReady),
					LocalNonce:      session.StringPtr(""),
					PeerNonce:       session.StringPtr(""),
					ExchangeCount:   session.IntPtr(0),
					FinalizeRetries: session.IntPtr(0),
				},
			}
		}
		if conv.PeerRef == "" || conv.LocalRef == "" {
			return outbound{}
		}
		return outbound{
			env: &wire.Envelope{
				To:      conv.PeerID,
				Intent:  wire.IntentClose,
				YourRef: conv.PeerRef,
				MyRef:   conv.LocalRef,
			},
			fields: session.Fields{
				FinalizeRetries: session.IntPtr(conv.FinalizeRetries + 1),
			},
		}
	}

	return outbound{}
}
