package engine

import (
	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/wire"
)

// route keys the transition lookup table: which of our roles is addressed,
// the conversation's current phase, and the inbound intent. An intent
// arriving in a phase with no table entry is ignored.
type route struct {
	role   session.Role
	phase  session.Phase
	intent string
}

// transition is the outcome of an accepted inbound envelope: the field
// deltas to merge into the conversation, an optional peer nonce to append to
// the ledger, and whether the ledger should be purged (successful finalize).
type transition struct {
	fields session.Fields
	record string
	purge  bool
}

// handlerFunc is a pure transition function. It inspects the conversation
// and the envelope and reports whether the envelope is accepted; a false
// return leaves the record byte-for-byte unchanged (stale or unexpected
// echo, not an error).
type handlerFunc func(lim session.Limits, conv session.Conversation, env wire.Envelope) (transition, bool)

// transitions maps (role, phase, intent) to its handler. Intents minted by
// a responder (confirm, respond, finish) land on our initiator machine;
// intents minted by an initiator (register, reconnect, request, conclude,
// close) land on our responder machine.
var transitions = map[route]handlerFunc{
	{session.RoleInitiator, session.PhaseReady, wire.IntentConfirm}:      initiatorConfirm,
	{session.RoleInitiator, session.PhaseExchanging, wire.IntentRespond}: initiatorRespond,
	{session.RoleInitiator, session.PhaseProposing, wire.IntentFinish}:   initiatorFinish,

	{session.RoleResponder, session.PhaseReady, wire.IntentRegister}:       responderRegister,
	{session.RoleResponder, session.PhaseReady, wire.IntentReconnect}:      responderReconnect,
	{session.RoleResponder, session.PhaseConfirming, wire.IntentRequest}:   responderFirstRequest,
	{session.RoleResponder, session.PhaseExchanging, wire.IntentRequest}:   responderRequest,
	{session.RoleResponder, session.PhaseExchanging, wire.IntentConclude}:  responderConclude,
	{session.RoleResponder, session.PhaseFinalizing, wire.IntentConclude}:  responderLateConclude,
	{session.RoleResponder, session.PhaseFinalizing, wire.IntentClose}:     responderClose,
}

// roleForIntent returns which of our machines handles an inbound intent.
func roleForIntent(intent string) (session.Role, bool) {
	switch intent {
	case wire.IntentConfirm, wire.IntentRespond, wire.IntentFinish:
		return session.RoleInitiator, true
	case wire.IntentRegister, wire.IntentReconnect, wire.IntentRequest,
		wire.IntentConclude, wire.IntentClose:
		return session.RoleResponder, true
	default:
		return "", false
	}
}
