package wire

import (
	"encoding/json"
	"fmt"
)

// Intent names the eight handshake messages.
const (
	IntentRegister  = "register"  // initiator → broadcast: liveness advertisement
	IntentReconnect = "reconnect" // initiator: resume via prior reference
	IntentConfirm   = "confirm"   // responder: first challenge
	IntentRequest   = "request"   // initiator: echo + new challenge
	IntentRespond   = "respond"   // responder: echo + new challenge
	IntentConclude  = "conclude"  // initiator: ends the loop, proposes a reference
	IntentFinish    = "finish"    // responder: accepts proposal, counter-proposes
	IntentClose     = "close"     // initiator: confirms mutual references
)

// Intents lists every valid intent token.
var Intents = map[string]bool{
	IntentRegister:  true,
	IntentReconnect: true,
	IntentConfirm:   true,
	IntentRequest:   true,
	IntentRespond:   true,
	IntentConclude:  true,
	IntentFinish:    true,
	IntentClose:     true,
}

// Envelope is the single message shape of the protocol. To is empty for the
// register broadcast and set for every directed message. YourNonce/YourRef
// always echo a value the receiver minted; MyNonce/MyRef carry a value the
// sender minted.
type Envelope struct {
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Intent    string `json:"intent"`
	YourNonce string `json:"your_nonce,omitempty"`
	MyNonce   string `json:"my_nonce,omitempty"`
	YourRef   string `json:"your_ref,omitempty"`
	MyRef     string `json:"my_ref,omitempty"`

	// ListenAddr is a transport hint: the sender's dialable address.
	// Connection-oriented transports stamp it on send because the observed
	// remote address carries an ephemeral port. The state machines never
	// read it.
	ListenAddr string `json:"listen_addr,omitempty"`
}

// Broadcast reports whether the envelope is addressed to no one in
// particular (register only, in practice).
func (e Envelope) Broadcast() bool {
	return e.To == ""
}

// Encode serializes the envelope to JSON.
func Encode(e Envelope) ([]byte, error) {
	if e.Intent == "" {
		return nil, fmt.Errorf("encode envelope: empty intent")
	}
	return json.Marshal(e)
}

// Decode parses an envelope from JSON. Field-level validation is the
// validator's job; Decode only rejects malformed JSON.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}
