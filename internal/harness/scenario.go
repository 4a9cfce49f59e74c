package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parley-proto/parley/internal/session"
)

// Scenario defines a conformance test scenario: a set of nodes, an ordered
// step list, and assertions over the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Nodes lists the participating nodes. Each runs a real engine over an
	// in-memory store attached to the shared bus.
	Nodes []NodeSpec `yaml:"nodes"`

	// Limits optionally overrides the retry policy on every node.
	Limits *session.Limits `yaml:"limits,omitempty"`

	// Setup seeds conversation records before the first step, for scenarios
	// that start mid-handshake (reconnect, exhaustion).
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Steps is the ordered list of ticks and injected envelopes.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// NodeSpec declares one node: its protocol identity and its bus address.
type NodeSpec struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// SetupStep seeds one conversation record. Empty fields are left at their
// defaults; counters seed only when non-zero.
type SetupStep struct {
	Node string `yaml:"node"`
	Role string `yaml:"role"`
	Peer string `yaml:"peer"`

	Phase           string `yaml:"phase,omitempty"`
	LocalNonce      string `yaml:"local_nonce,omitempty"`
	PeerNonce       string `yaml:"peer_nonce,omitempty"`
	LocalRef        string `yaml:"local_ref,omitempty"`
	PeerRef         string `yaml:"peer_ref,omitempty"`
	ExchangeCount   int    `yaml:"exchange_count,omitempty"`
	FinalizeRetries int    `yaml:"finalize_retries,omitempty"`
	LastAddr        string `yaml:"last_addr,omitempty"`
}

// Step is one scenario action. Exactly one of the fields is set.
type Step struct {
	// Tick names a node whose outbound sweep runs.
	Tick string `yaml:"tick,omitempty"`

	// Deliver injects a raw envelope into a node, bypassing the bus. Used
	// to model stale, forged, or replayed traffic.
	Deliver *DeliverStep `yaml:"deliver,omitempty"`
}

// DeliverStep injects one envelope into a node's inbound path.
type DeliverStep struct {
	// Node is the receiving node's id.
	Node string `yaml:"node"`

	// Addr is the transport address the envelope appears to come from.
	Addr string `yaml:"addr"`

	Envelope EnvelopeSpec `yaml:"envelope"`
}

// EnvelopeSpec is the YAML form of a wire envelope.
type EnvelopeSpec struct {
	From      string `yaml:"from,omitempty"`
	To        string `yaml:"to,omitempty"`
	Intent    string `yaml:"intent"`
	YourNonce string `yaml:"your_nonce,omitempty"`
	MyNonce   string `yaml:"my_nonce,omitempty"`
	YourRef   string `yaml:"your_ref,omitempty"`
	MyRef     string `yaml:"my_ref,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an envelope with the given intent (and optional
	//   from/to) appears in the trace
	// - "trace_order": intents appear in this relative order
	// - "trace_count": the intent appears exactly Count times
	// - "final_state": a conversation record matches the expected fields
	Type string `yaml:"type"`

	// Intent is the envelope intent (trace_contains, trace_count).
	Intent string `yaml:"intent,omitempty"`

	// From/To optionally narrow trace_contains to a sender or recipient.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Intents is the expected relative order (trace_order).
	Intents []string `yaml:"intents,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Node, Role, Peer select the conversation record (final_state).
	Node string `yaml:"node,omitempty"`
	Role string `yaml:"role,omitempty"`
	Peer string `yaml:"peer,omitempty"`

	// Expect contains expected field values (final_state). Subset match:
	// only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Returns an error if
// the file doesn't exist, is malformed, contains unknown fields (typos), or
// is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Nodes))
	addrs := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: id is required", i)
		}
		if n.Addr == "" {
			return fmt.Errorf("nodes[%d]: addr is required", i)
		}
		if ids[n.ID] {
			return fmt.Errorf("nodes[%d]: duplicate id %q", i, n.ID)
		}
		if addrs[n.Addr] {
			return fmt.Errorf("nodes[%d]: duplicate addr %q", i, n.Addr)
		}
		ids[n.ID] = true
		addrs[n.Addr] = true
	}

	for i, step := range s.Setup {
		if !ids[step.Node] {
			return fmt.Errorf("setup[%d]: unknown node %q", i, step.Node)
		}
		if !session.Role(step.Role).Valid() {
			return fmt.Errorf("setup[%d]: invalid role %q", i, step.Role)
		}
		if step.Peer == "" {
			return fmt.Errorf("setup[%d]: peer is required", i)
		}
	}

	for i, step := range s.Steps {
		switch {
		case step.Tick != "" && step.Deliver != nil:
			return fmt.Errorf("steps[%d]: tick and deliver are mutually exclusive", i)
		case step.Tick != "":
			if !ids[step.Tick] {
				return fmt.Errorf("steps[%d]: unknown node %q", i, step.Tick)
			}
		case step.Deliver != nil:
			if !ids[step.Deliver.Node] {
				return fmt.Errorf("steps[%d]: unknown node %q", i, step.Deliver.Node)
			}
			if step.Deliver.Envelope.Intent == "" {
				return fmt.Errorf("steps[%d]: envelope intent is required", i)
			}
		default:
			return fmt.Errorf("steps[%d]: either tick or deliver is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, ids); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, ids map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Intent == "" {
			return fmt.Errorf("assertions[%d]: intent is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Intents) == 0 {
			return fmt.Errorf("assertions[%d]: intents list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Intent == "" {
			return fmt.Errorf("assertions[%d]: intent is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if !ids[a.Node] {
			return fmt.Errorf("assertions[%d]: unknown node %q for final_state", index, a.Node)
		}
		if !session.Role(a.Role).Valid() {
			return fmt.Errorf("assertions[%d]: invalid role %q for final_state", index, a.Role)
		}
		if a.Peer == "" {
			return fmt.Errorf("assertions[%d]: peer is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
