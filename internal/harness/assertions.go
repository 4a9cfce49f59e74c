package harness

import (
	"fmt"
	"strings"
)

// runAssertions evaluates every assertion against the result, appending one
// error per failure. All assertions run even after a failure so the output
// names everything that broke.
func runAssertions(scenario *Scenario, result *Result) {
	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertTraceContains:
			assertTraceContains(i, a, result)
		case AssertTraceOrder:
			assertTraceOrder(i, a, result)
		case AssertTraceCount:
			assertTraceCount(i, a, result)
		case AssertFinalState:
			assertFinalState(i, a, result)
		}
	}
}

// matches reports whether the event satisfies the assertion's intent and
// optional from/to narrowing.
func matches(a Assertion, ev TraceEvent) bool {
	if ev.Intent != a.Intent {
		return false
	}
	if a.From != "" && ev.From != a.From {
		return false
	}
	if a.To != "" && ev.To != a.To {
		return false
	}
	return true
}

func assertTraceContains(index int, a Assertion, result *Result) {
	for _, ev := range result.Trace {
		if matches(a, ev) {
			return
		}
	}
	result.AddError(fmt.Sprintf(
		"assertions[%d] trace_contains: no %q envelope%s in trace",
		index, a.Intent, fromToSuffix(a),
	))
}

func assertTraceOrder(index int, a Assertion, result *Result) {
	next := 0
	for _, ev := range result.Trace {
		if next < len(a.Intents) && ev.Intent == a.Intents[next] {
			next++
		}
	}
	if next < len(a.Intents) {
		result.AddError(fmt.Sprintf(
			"assertions[%d] trace_order: expected order [%s], stuck at %q",
			index, strings.Join(a.Intents, ", "), a.Intents[next],
		))
	}
}

func assertTraceCount(index int, a Assertion, result *Result) {
	count := 0
	for _, ev := range result.Trace {
		if matches(a, ev) {
			count++
		}
	}
	if count != a.Count {
		result.AddError(fmt.Sprintf(
			"assertions[%d] trace_count: %q%s appeared %d times, expected %d",
			index, a.Intent, fromToSuffix(a), count, a.Count,
		))
	}
}

func assertFinalState(index int, a Assertion, result *Result) {
	key := fmt.Sprintf("%s/%s/%s", a.Node, a.Role, a.Peer)
	state, ok := result.State[key]
	if !ok {
		result.AddError(fmt.Sprintf(
			"assertions[%d] final_state: no conversation record %s", index, key,
		))
		return
	}

	for field, want := range a.Expect {
		got, ok := stateField(state, field)
		if !ok {
			result.AddError(fmt.Sprintf(
				"assertions[%d] final_state: unknown field %q", index, field,
			))
			continue
		}
		// YAML hands back strings and ints; comparing printed forms covers
		// both without a type switch per field.
		if fmt.Sprint(want) != got {
			result.AddError(fmt.Sprintf(
				"assertions[%d] final_state: %s.%s = %q, expected %q",
				index, key, field, got, fmt.Sprint(want),
			))
		}
	}
}

// stateField resolves an expect key to the printed field value.
func stateField(s ConversationState, field string) (string, bool) {
	switch field {
	case "phase":
		return s.Phase, true
	case "local_nonce":
		return s.LocalNonce, true
	case "peer_nonce":
		return s.PeerNonce, true
	case "local_ref":
		return s.LocalRef, true
	case "peer_ref":
		return s.PeerRef, true
	case "exchange_count":
		return fmt.Sprint(s.ExchangeCount), true
	case "finalize_retries":
		return fmt.Sprint(s.FinalizeRetries), true
	default:
		return "", false
	}
}

func fromToSuffix(a Assertion) string {
	var parts []string
	if a.From != "" {
		parts = append(parts, "from "+a.From)
	}
	if a.To != "" {
		parts = append(parts, "to "+a.To)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
