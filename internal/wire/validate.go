package wire

// DropReason explains why the validator rejected an envelope. Rejections are
// silent protocol-wise (no reply, no state change); the reason exists only
// for debug logging.
type DropReason string

const (
	DropNone          DropReason = ""
	DropMissingFrom   DropReason = "missing from"
	DropMissingIntent DropReason = "missing intent"
	DropUnknownIntent DropReason = "unknown intent"
	DropNotForUs      DropReason = "addressed to another node"
	DropFromSelf      DropReason = "from ourselves"
)

// Validate shape-checks an inbound envelope for the node selfID before it
// reaches either state machine. A non-empty DropReason means the envelope
// must be discarded with no state change.
//
// An empty To is allowed (register broadcast); a set To must equal selfID.
func Validate(e Envelope, selfID string) DropReason {
	if e.From == "" {
		return DropMissingFrom
	}
	if e.Intent == "" {
		return DropMissingIntent
	}
	if !Intents[e.Intent] {
		return DropUnknownIntent
	}
	if e.From == selfID {
		return DropFromSelf
	}
	if e.To != "" && e.To != selfID {
		return DropNotForUs
	}
	return DropNone
}
