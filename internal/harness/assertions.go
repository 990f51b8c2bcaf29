package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/vaultsync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string    // Assertion type for categorization
	Expected string    // Human-readable expected outcome
	Actual   string    // Human-readable actual outcome
	Steps    []ir.Step // Run log of the asserted run, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nRun log:\n")
		for _, s := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", s.Seq, s.State, s.Action, s.Status)
			if s.Detail != "" {
				fmt.Fprintf(&buf, " %s", s.Detail)
			}
			if s.Error != "" {
				fmt.Fprintf(&buf, " error=%q", s.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertTraceContains checks that the run log has a step for the action,
// optionally narrowed by status and detail text.
func assertTraceContains(steps []ir.Step, a Assertion) error {
	for _, s := range steps {
		if s.Action != a.Action {
			continue
		}
		if a.Status != "" && string(s.Status) != a.Status {
			continue
		}
		if a.Detail != "" && !strings.Contains(s.Detail, a.Detail) && !strings.Contains(s.Error, a.Detail) {
			continue
		}
		return nil
	}

	expected := "step " + a.Action
	if a.Status != "" {
		expected += " with status " + a.Status
	}
	if a.Detail != "" {
		expected += fmt.Sprintf(" mentioning %q", a.Detail)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in run log",
		Steps:    steps,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(steps []ir.Step, a Assertion) error {
	positions := make(map[string]int)
	for i, s := range steps {
		if positions[s.Action] == 0 {
			positions[s.Action] = i + 1 // 1-indexed for readability
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Steps:    steps,
			}
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Steps: steps,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(steps []ir.Step, a Assertion) error {
	count := 0
	for _, s := range steps {
		if s.Action == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Steps:    steps,
		}
	}
	return nil
}

// assertWriteCount checks how many writes were submitted to the ledger,
// including submissions the ledger rejected.
func assertWriteCount(result *Result, a Assertion) error {
	if len(result.Writes) != a.Count {
		methods := make([]string, len(result.Writes))
		for i, w := range result.Writes {
			methods[i] = w.Method
		}
		return &AssertionError{
			Type:     AssertWriteCount,
			Expected: fmt.Sprintf("%d ledger writes", a.Count),
			Actual:   fmt.Sprintf("%d ledger writes %v", len(result.Writes), methods),
		}
	}
	return nil
}

// assertOutcome checks the terminal classification of the run.
func assertOutcome(r *ir.RunResult, a Assertion) error {
	actual := map[string]any{
		"outcome": string(r.Outcome),
		"reason":  string(r.Reason),
		"state":   string(r.State),
		"message": r.Message,
	}
	return matchFields(AssertOutcome, actual, a.Expect, r.Steps)
}

// assertFinalState checks the ledger custody after the last run.
func assertFinalState(final ir.CustodyState, a Assertion) error {
	actual := map[string]any{
		"actual_balance":  final.ActualBalance,
		"tracked_count":   final.TrackedCount,
		"pending_counter": final.PendingCounter,
		"needs_recovery":  final.NeedsRecovery(),
	}
	return matchFields(AssertFinalState, actual, a.Expect, nil)
}

// assertWarning checks that the run raised a warning with the code.
func assertWarning(r *ir.RunResult, a Assertion) error {
	codes := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		if string(w.Code) == a.Code {
			return nil
		}
		codes[i] = string(w.Code)
	}
	return &AssertionError{
		Type:     AssertWarning,
		Expected: "warning " + a.Code,
		Actual:   fmt.Sprintf("warnings %v", codes),
		Steps:    r.Steps,
	}
}

// matchFields compares expected against actual with subset semantics.
// Values are compared by their printed form, so YAML ints match uint64
// counts.
func matchFields(kind string, actual, expected map[string]any, steps []ir.Step) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q to exist", k),
				Actual:   "field not present",
				Steps:    steps,
			}
		}
		if fmt.Sprint(expected[k]) != fmt.Sprint(got) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s = %v", k, expected[k]),
				Actual:   fmt.Sprintf("%s = %v", k, got),
				Steps:    steps,
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	last := result.Last()
	for i, a := range assertions {
		var err error

		needsRun := a.Type != AssertWriteCount && a.Type != AssertFinalState
		if needsRun && last == nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %s requires a run", i, a.Type))
			continue
		}

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(last.Steps, a)
		case AssertTraceOrder:
			err = assertTraceOrder(last.Steps, a)
		case AssertTraceCount:
			err = assertTraceCount(last.Steps, a)
		case AssertWriteCount:
			err = assertWriteCount(result, a)
		case AssertOutcome:
			err = assertOutcome(last, a)
		case AssertFinalState:
			err = assertFinalState(result.Final, a)
		case AssertWarning:
			err = assertWarning(last, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
