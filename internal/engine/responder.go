package engine

import (
	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/wire"
)

// Responder machine: ready → confirming → exchanging → finalizing → ready.
//
// The structure mirrors the initiator with one deliberate asymmetry: when
// the finalize budget runs out, the responder wipes all session material
// including references, while the initiator preserves its references. The
// initiator drives reconnect; the responder treats exhaustion as
// abandonment.

// responderRegister handles register in ready. Accepted only when no local
// reference is held: a peer we already finished a session with must use
// reconnect.
func responderRegister(_ session.Limits, conv session.Conversation, _ wire.Envelope) (transition, bool) {
	if conv.LocalRef != "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase: session.PhasePtr(session.PhaseConfirming),
		},
	}, true
}

// responderReconnect handles reconnect{your_ref} in ready. The echoed
// reference must match the one we minted for the prior session. The held
// reference is cleared so a fresh one is minted during this round's
// finalize.
func responderReconnect(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalRef == "" || env.YourRef != conv.LocalRef {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:    session.PhasePtr(session.PhaseConfirming),
			LocalRef: session.StringPtr(""),
		},
	}, true
}

// responderFirstRequest handles the first request{your_nonce, my_nonce} in
// confirming: the echo must match the nonce we most recently offered via
// confirm. Starts the exchange with a count of 1.
func responderFirstRequest(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalNonce == "" || env.YourNonce != conv.LocalNonce || env.MyNonce == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:         session.PhasePtr(session.PhaseExchanging),
			PeerNonce:     session.StringPtr(env.MyNonce),
			LocalNonce:    session.StringPtr(""),
			ExchangeCount: session.IntPtr(1),
		},
		record: env.MyNonce,
	}, true
}

// responderRequest handles request in exchanging. Within the limit the loop
// continues and the counter advances; past it the same valid request forces
// the cut-over to finalizing. The outstanding local nonce is kept across the
// cut-over so the conclude that follows can still be verified against it.
func responderRequest(lim session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalNonce == "" || env.YourNonce != conv.LocalNonce || env.MyNonce == "" {
		return transition{}, false
	}

	if conv.ExchangeCount <= lim.Exchange {
		return transition{
			fields: session.Fields{
				PeerNonce:     session.StringPtr(env.MyNonce),
				LocalNonce:    session.StringPtr(""),
				ExchangeCount: session.IntPtr(conv.ExchangeCount + 1),
			},
			record: env.MyNonce,
		}, true
	}

	return transition{
		fields: session.Fields{
			Phase:         session.PhasePtr(session.PhaseFinalizing),
			PeerNonce:     session.StringPtr(env.MyNonce),
			ExchangeCount: session.IntPtr(0),
		},
		record: env.MyNonce,
	}, true
}

// responderConclude handles conclude{your_nonce, my_ref} in exchanging: the
// initiator ends the loop and proposes its reference.
func responderConclude(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalNonce == "" || env.YourNonce != conv.LocalNonce || env.MyRef == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:         session.PhasePtr(session.PhaseFinalizing),
			PeerRef:       session.StringPtr(env.MyRef),
			LocalNonce:    session.StringPtr(""),
			ExchangeCount: session.IntPtr(0),
		},
	}, true
}

// responderLateConclude handles a conclude that arrives after the request
// cut-over already moved us to finalizing without a peer reference. The
// outstanding nonce kept at cut-over gates acceptance.
func responderLateConclude(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.PeerRef != "" || conv.LocalNonce == "" || env.YourNonce != conv.LocalNonce || env.MyRef == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			PeerRef:         session.StringPtr(env.MyRef),
			LocalNonce:      session.StringPtr(""),
			FinalizeRetries: session.IntPtr(0),
		},
	}, true
}

// responderClose handles close{your_ref, my_ref} in finalizing: success.
// The echoed reference must match the one we counter-proposed in finish.
// Nonces and counters clear, the ledger purges, and the local reference is
// kept as the reconnect key for the next round.
func responderClose(_ session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool) {
	if conv.LocalRef == "" || env.YourRef != conv.LocalRef || env.MyRef == "" {
		return transition{}, false
	}
	return transition{
		fields: session.Fields{
			Phase:           session.PhasePtr(session.PhaseReady),
			PeerRef:         session.StringPtr(env.MyRef),
			LocalNonce:      session.StringPtr(""),
			PeerNonce:       session.StringPtr(""),
			ExchangeCount:   session.IntPtr(0),
			FinalizeRetries: session.IntPtr(0),
		},
		purge: true,
	}, true
}

// buildResponder computes the responder's outbound step for one
// conversation. As on the initiator side, tokens are minted only into empty
// slots so retries re-offer the same value.
func buildResponder(lim session.Limits, tokens TokenGenerator, conv session.Conversation) outbound {
	switch conv.Phase {
	case session.PhaseConfirming:
		var fields session.Fields
		nonce := conv.LocalNonce
		if nonce == "" {
			nonce = tokens.Nonce()
			fields.LocalNonce = session.StringPtr(nonce)
		}
		return outbound{
			env: &wire.Envelope{
				To:      conv.PeerID,
				Intent:  wire.IntentConfirm,
				MyNonce: nonce,
			},
			fields: fields,
			record: nonce,
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
		return outbound{
			env: &wire.Envelope{
				To:        conv.PeerID,
				Intent:    wire.IntentRespond,
				YourNonce: conv.PeerNonce,
				MyNonce:   nonce,
			},
			fields: fields,
			record: nonce,
		}

	case session.PhaseFinalizing:
		// Retry budget exhausted: wipe everything, references included.
		if conv.FinalizeRetries > lim.Finalize {
			return outbound{
				fields: session.Fields{
					Phase:           session.PhasePtr(session.PhaseReady),
					LocalNonce:      session.StringPtr(""),
					PeerNonce:       session.StringPtr(""),
					LocalRef:        session.StringPtr(""),
					PeerRef:         session.StringPtr(""),
					ExchangeCount:   session.IntPtr(0),
					FinalizeRetries: session.IntPtr(0),
				},
			}
		}
		if conv.PeerRef == "" {
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
				To:      conv.PeerID,
				Intent:  wire.IntentFinish,
				YourRef: conv.PeerRef,
				MyRef:   ref,
			},
			fields: fields,
		}
	}

	return outbound{}
}
