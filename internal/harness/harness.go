package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/engine"
	"github.com/roach88/vaultsync/internal/executor"
	"github.com/roach88/vaultsync/internal/ir"
	"github.com/roach88/vaultsync/internal/ledger"
	"github.com/roach88/vaultsync/internal/ledger/simledger"
	"github.com/roach88/vaultsync/internal/testutil"
)

// Timeouts used for simulated writes. The simulated ledger answers at once,
// so these only bound scenarios that keep receipts pending.
const (
	pollInterval   = time.Millisecond
	confirmTimeout = 50 * time.Millisecond
)

// Holder is the bookkeeping contract address used by every scenario.
var Holder = testutil.Bookkeeping

// Harness wires one scenario's simulated ledger to a coordinator.
type Harness struct {
	sim   *simledger.Ledger
	coord *engine.Coordinator
	clock *testutil.DeterministicClock
}

// New builds the simulated ledger and coordinator for scenario.
func New(scenario *Scenario, logger *slog.Logger) (*Harness, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	owner := common.HexToAddress(scenario.Ledger.Owner)
	var identity *authz.Identity
	if !scenario.NoCredential {
		addr := owner
		if scenario.Operator != "" {
			addr = common.HexToAddress(scenario.Operator)
		}
		identity = &authz.Identity{Address: addr}
	}

	state := simledger.State{
		Owner:    owner,
		Held:     scenario.Ledger.Held,
		Tracked:  scenario.Ledger.Tracked,
		Pending:  scenario.Ledger.Pending,
		Capacity: scenario.Ledger.Capacity,
	}
	if identity != nil {
		state.Sender = identity.Address
	}
	sim := simledger.New(state)
	applyFaults(sim, scenario.Faults)

	reader := ledger.NewReader(sim, Holder,
		ledger.WithReadTimeout(time.Second),
		ledger.WithLogger(logger),
	)
	exec := executor.New(reader,
		executor.WithPollInterval(pollInterval),
		executor.WithConfirmTimeout(confirmTimeout),
		executor.WithLogger(logger),
	)

	runID := scenario.RunID
	if runID == "" {
		runID = "scenario-" + scenario.Name
	}
	clock := testutil.NewDeterministicClock()
	coord, err := engine.New(engine.Config{
		Reader:   reader,
		Executor: exec,
		Identity: identity,
		Window:   scenario.Window,
	},
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		engine.WithNow(clock.Now),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}

	return &Harness{sim: sim, coord: coord, clock: clock}, nil
}

// Ledger returns the simulated ledger.
func (h *Harness) Ledger() *simledger.Ledger {
	return h.sim
}

// Coordinator returns the coordinator under test.
func (h *Harness) Coordinator() *engine.Coordinator {
	return h.coord
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh simulated ledger. Runs execute one after
// another, then every assertion is evaluated.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a caller context and logger.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	h, err := New(scenario, logger)
	if err != nil {
		return nil, err
	}

	runs := scenario.Runs
	if runs == 0 {
		runs = 1
	}

	result := NewResult()
	for i := 0; i < runs; i++ {
		result.Runs = append(result.Runs, h.coord.Run(ctx, ir.TriggerScenario))
	}
	result.Final = h.sim.Custody()
	result.Writes = h.sim.Submissions()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func applyFaults(sim *simledger.Ledger, f *Faults) {
	if f == nil {
		return
	}
	for query, msg := range f.ReadFailures {
		sim.FailRead(query, errors.New(msg))
	}
	for method, msg := range f.SubmitFailures {
		sim.FailSubmit(method, errors.New(msg))
	}
	for method, n := range f.Reverts {
		sim.RevertNext(method, n)
	}
	for method, n := range f.Concurrent {
		sim.ApplyConcurrently(method, n)
	}
	if f.ConfirmAfter > 0 {
		sim.ConfirmAfter(f.ConfirmAfter)
	}
	if f.RejectReverts {
		sim.RejectReverts(true)
	}
	if f.NeverConfirm {
		sim.NeverConfirm(true)
	}
}
