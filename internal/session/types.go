package session

import "time"

// Role identifies which side of a handshake this node plays for a given peer.
// A node tracks both roles independently per peer.
type Role string

const (
	// RoleInitiator is the side that starts contact (register/reconnect).
	RoleInitiator Role = "initiator"
	// RoleResponder is the side being contacted.
	RoleResponder Role = "responder"
)

// Roles lists both roles in sweep order.
var Roles = []Role{RoleInitiator, RoleResponder}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// DefaultPhase returns the phase a freshly created conversation starts in.
// Both state machines start at PhaseReady.
func (r Role) DefaultPhase() Phase {
	return PhaseReady
}

// Phase is the current step of a role's state machine for a peer.
type Phase string

// Initiator phases: ready → exchanging → proposing → closing → ready.
// Responder phases: ready → confirming → exchanging → finalizing → ready.
// PhaseReady and PhaseExchanging are shared tokens; the remaining phases
// belong to one role only.
const (
	PhaseReady      Phase = "ready"
	PhaseConfirming Phase = "confirming"
	PhaseExchanging Phase = "exchanging"
	PhaseProposing  Phase = "proposing"
	PhaseFinalizing Phase = "finalizing"
	PhaseClosing    Phase = "closing"
)

// Policy limits. A counter strictly greater than its limit forces a phase
// advance (cut-over) or reset; threshold-exceeded is a transition guard,
// never an error.
const (
	// DefaultExchangeLimit bounds the nonce exchange round trips before the
	// initiator cuts over to proposing.
	DefaultExchangeLimit = 3
	// DefaultFinalizeLimit bounds finalize send attempts before the phase
	// resets to ready.
	DefaultFinalizeLimit = 3
)

// Limits carries the retry policy for both machines.
type Limits struct {
	Exchange int `yaml:"exchange"`
	Finalize int `yaml:"finalize"`
}

// DefaultLimits returns the standard retry policy.
func DefaultLimits() Limits {
	return Limits{Exchange: DefaultExchangeLimit, Finalize: DefaultFinalizeLimit}
}

// Conversation is the durable handshake record for one (self, role, peer) key.
//
// Records are never deleted, only phase-reset, so LocalRef/PeerRef can
// outlive a failed round and enable reconnect.
type Conversation struct {
	SelfID string
	Role   Role
	PeerID string

	// Phase is never empty once the record exists.
	Phase Phase

	// LocalNonce is the outstanding challenge this node minted; empty when
	// no challenge is outstanding. PeerNonce is the latest challenge
	// received from the peer.
	LocalNonce string
	PeerNonce  string

	// LocalRef is the session reference this node minted during finalize;
	// PeerRef is the reference the peer proposed. A matching echo of
	// LocalRef in the counterpart's closing message completes the handshake.
	LocalRef string
	PeerRef  string

	ExchangeCount   int
	FinalizeRetries int

	// LastAddr is the transport address observed on the most recently
	// accepted inbound envelope.
	LastAddr string
}

// Fields is a partial update applied to a conversation: nil pointers leave
// the column untouched, non-nil pointers overwrite it (last write wins).
// Callers serialize updates per key; the store adds no optimistic locking.
type Fields struct {
	Phase           *Phase
	LocalNonce      *string
	PeerNonce       *string
	LocalRef        *string
	PeerRef         *string
	ExchangeCount   *int
	FinalizeRetries *int
	LastAddr        *string
}

// Apply merges f into c in place.
func (f Fields) Apply(c *Conversation) {
	if f.Phase != nil {
		c.Phase = *f.Phase
	}
	if f.LocalNonce != nil {
		c.LocalNonce = *f.LocalNonce
	}
	if f.PeerNonce != nil {
		c.PeerNonce = *f.PeerNonce
	}
	if f.LocalRef != nil {
		c.LocalRef = *f.LocalRef
	}
	if f.PeerRef != nil {
		c.PeerRef = *f.PeerRef
	}
	if f.ExchangeCount != nil {
		c.ExchangeCount = *f.ExchangeCount
	}
	if f.FinalizeRetries != nil {
		c.FinalizeRetries = *f.FinalizeRetries
	}
	if f.LastAddr != nil {
		c.LastAddr = *f.LastAddr
	}
}

// IsZero reports whether the update would change nothing.
func (f Fields) IsZero() bool {
	return f.Phase == nil &&
		f.LocalNonce == nil &&
		f.PeerNonce == nil &&
		f.LocalRef == nil &&
		f.PeerRef == nil &&
		f.ExchangeCount == nil &&
		f.FinalizeRetries == nil &&
		f.LastAddr == nil
}

// Helpers for building Fields literals.

// PhasePtr returns a pointer to p.
func PhasePtr(p Phase) *Phase { return &p }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// Flow distinguishes the direction of a recorded nonce event.
type Flow string

const (
	// FlowSent marks a nonce this node offered as a challenge.
	FlowSent Flow = "sent"
	// FlowReceived marks a nonce accepted from the peer.
	FlowReceived Flow = "received"
)

// NonceEvent is one append-only ledger row. The ledger is audit-only:
// acceptance decisions never consult it, only the conversation's single
// expected value. Rows are purged wholesale when the role's handshake
// finalizes successfully.
type NonceEvent struct {
	SelfID string
	Role   Role
	PeerID string
	Flow   Flow
	Nonce  string

	// Seq is a logical clock stamp; ledger reads order by it, never by
	// wall time.
	Seq int64
	At  time.Time
}
