package harness

// TraceEvent is one envelope observed in delivery order: bus deliveries and
// injected envelopes alike. Field order matters for golden serialization.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Intent    string `json:"intent"`
	YourNonce string `json:"your_nonce,omitempty"`
	MyNonce   string `json:"my_nonce,omitempty"`
	YourRef   string `json:"your_ref,omitempty"`
	MyRef     string `json:"my_ref,omitempty"`
	Addr      string `json:"addr,omitempty"`
}

// ConversationState is the final-state snapshot of one conversation record,
// keyed in Result.State as "node/role/peer".
type ConversationState struct {
	Phase           string `json:"phase"`
	LocalNonce      string `json:"local_nonce,omitempty"`
	PeerNonce       string `json:"peer_nonce,omitempty"`
	LocalRef        string `json:"local_ref,omitempty"`
	PeerRef         string `json:"peer_ref,omitempty"`
	ExchangeCount   int    `json:"exchange_count,omitempty"`
	FinalizeRetries int    `json:"finalize_retries,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every envelope in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final conversation records of every node.
	State map[string]ConversationState `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ConversationState),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
