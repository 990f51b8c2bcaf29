package harness

import (
	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion holds.
	Pass bool `json:"pass"`

	// Runs holds every run log in execution order.
	Runs []*ir.RunResult `json:"runs"`

	// Final is the ledger custody after the last run.
	Final ir.CustodyState `json:"final"`

	// Writes lists every write submitted to the ledger.
	Writes []simledger.Call `json:"writes"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []*ir.RunResult{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Last returns the final run log, or nil before any run.
func (r *Result) Last() *ir.RunResult {
	if len(r.Runs) == 0 {
		return nil
	}
	return r.Runs[len(r.Runs)-1]
}
