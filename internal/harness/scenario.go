package harness

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
)

// Scenario defines a reconciliation scenario: an initial ledger, the
// operator, optional faults, and assertions over the resulting runs.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ledger is the initial simulated ledger.
	Ledger LedgerSetup `yaml:"ledger"`

	// Window is the configured scan window.
	Window ir.ScanWindow `yaml:"window"`

	// Operator is the configured operator address. Empty means the ledger
	// owner.
	Operator string `yaml:"operator,omitempty"`

	// NoCredential runs without any operator credential.
	NoCredential bool `yaml:"no_credential,omitempty"`

	// Faults are injected before the first run.
	Faults *Faults `yaml:"faults,omitempty"`

	// Runs is the number of consecutive passes. Defaults to 1.
	Runs int `yaml:"runs,omitempty"`

	// RunID is the fixed run id. Defaults to "scenario-<name>".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the runs and the final ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// LedgerSetup is the initial simulated ledger.
type LedgerSetup struct {
	Owner    string `yaml:"owner"`
	Held     IDList `yaml:"held"`
	Tracked  IDList `yaml:"tracked"`
	Pending  uint64 `yaml:"pending,omitempty"`
	Capacity int    `yaml:"capacity,omitempty"`
}

// Faults configures simulated ledger failures.
type Faults struct {
	// ReadFailures maps a query name to the error every read of it returns.
	ReadFailures map[string]string `yaml:"read_failures,omitempty"`

	// SubmitFailures maps a write method to the error every submission of
	// it returns.
	SubmitFailures map[string]string `yaml:"submit_failures,omitempty"`

	// Reverts forces the next N submissions of a method to revert.
	Reverts map[string]int `yaml:"reverts,omitempty"`

	// Concurrent lands the same correction from another writer just before
	// the next N submissions of a method.
	Concurrent map[string]int `yaml:"concurrent,omitempty"`

	// ConfirmAfter delays every receipt by N polls.
	ConfirmAfter int `yaml:"confirm_after,omitempty"`

	// NeverConfirm keeps every receipt pending.
	NeverConfirm bool `yaml:"never_confirm,omitempty"`

	// RejectReverts rejects reverting writes at submission.
	RejectReverts bool `yaml:"reject_reverts,omitempty"`
}

// Assertion validates the runs or the final ledger.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the step action (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Status optionally narrows trace_contains to a step status.
	Status string `yaml:"status,omitempty"`

	// Detail optionally narrows trace_contains to steps whose detail or
	// error contains this text.
	Detail string `yaml:"detail,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count, write_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected warning code (warning).
	Code string `yaml:"code,omitempty"`

	// Expect holds expected fields (outcome, final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertWriteCount    = "write_count"
	AssertOutcome       = "outcome"
	AssertFinalState    = "final_state"
	AssertWarning       = "warning"
)

var (
	outcomeFields    = []string{"outcome", "reason", "state", "message"}
	finalStateFields = []string{"actual_balance", "tracked_count", "pending_counter", "needs_recovery"}
	addressPattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	knownQueries     = []string{
		ledger.QueryOwnedCount, ledger.QueryTrackedCount, ledger.QueryPendingCounter,
		ledger.QueryTrackedList, ledger.QueryScanUntracked, ledger.QueryPrivilegedAddress,
	}
	knownMethods = []string{simledger.MethodRecoverBatch, simledger.MethodResetPending}
)

// IDList is a list of asset ids. In YAML each element is an id or an
// inclusive "start-end" range.
type IDList []ir.AssetID

// UnmarshalYAML expands ranges.
func (l *IDList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: id list must be a sequence", node.Line)
	}
	out := IDList{}
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: id list entries must be ids or ranges", item.Line)
		}
		ids, err := parseIDs(item.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", item.Line, err)
		}
		out = append(out, ids...)
	}
	*l = out
	return nil
}

func parseIDs(s string) ([]ir.AssetID, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	if !isRange {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid asset id %q", s)
		}
		return []ir.AssetID{ir.AssetID(n)}, nil
	}
	start, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	ids := make([]ir.AssetID, 0, end-start+1)
	for id := start; id <= end; id++ {
		ids = append(ids, ir.AssetID(id))
	}
	return ids, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

// validateScenario checks required fields and structure.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !addressPattern.MatchString(s.Ledger.Owner) {
		return fmt.Errorf("ledger.owner must be a 0x-prefixed 20-byte hex address")
	}
	if s.Operator != "" && !addressPattern.MatchString(s.Operator) {
		return fmt.Errorf("operator must be a 0x-prefixed 20-byte hex address")
	}
	if s.Operator != "" && s.NoCredential {
		return fmt.Errorf("operator and no_credential are mutually exclusive")
	}
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	if err := validateFaults(s.Faults); err != nil {
		return err
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("at least one assertion is required")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateFaults(f *Faults) error {
	if f == nil {
		return nil
	}
	for q := range f.ReadFailures {
		if !contains(knownQueries, q) {
			return fmt.Errorf("faults.read_failures: unknown query %q", q)
		}
	}
	for _, m := range [][]string{keys(f.SubmitFailures), keys(f.Reverts), keys(f.Concurrent)} {
		for _, method := range m {
			if !contains(knownMethods, method) {
				return fmt.Errorf("faults: unknown write method %q", method)
			}
		}
	}
	if f.ConfirmAfter < 0 {
		return fmt.Errorf("faults.confirm_after must be non-negative")
	}
	return nil
}

// validateAssertion validates a single assertion.
func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertWriteCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for write_count", index)
		}
	case AssertOutcome:
		if err := validateExpect(a, index, outcomeFields); err != nil {
			return err
		}
	case AssertFinalState:
		if err := validateExpect(a, index, finalStateFields); err != nil {
			return err
		}
	case AssertWarning:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for warning", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validateExpect(a Assertion, index int, allowed []string) error {
	if len(a.Expect) == 0 {
		return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
	}
	for k := range a.Expect {
		if !contains(allowed, k) {
			return fmt.Errorf("assertions[%d]: unknown %s field %q", index, a.Type, k)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
